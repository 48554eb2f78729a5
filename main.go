// The main package for the mtaalerts executable.
package main

import "github.com/tsdataclinic/mta/cmd"

func main() {
	cmd.Execute()
}
