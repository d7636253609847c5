/*
Copyright © 2022 The upxunpack Authors
*/
package main

import "upxunpack/cmd"

func main() {
	cmd.Execute()
}
