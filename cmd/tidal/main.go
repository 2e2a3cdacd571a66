// tidal is a small JavaScript runtime for the command line.
package main

import "github.com/tidaljs/tidal/internal/cmd"

func main() {
	cmd.Execute()
}
