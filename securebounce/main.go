// Command securebounce checks that GPU buffers in the trusted memory zone stay
// encrypted while the kernel migrates them between memory pools.
package main

import "github.com/sarchlab/securebounce/securebounce/cmd"

func main() {
	cmd.Execute()
}
