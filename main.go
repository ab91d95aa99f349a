package main

import "github.com/scalab/tracevault/cmd"

func main() {
	cmd.Execute()
}
