package main

import "github.com/Ethereal-Lemons/LimeBot-OS-sub000/cmd"

func main() {
	cmd.Execute()
}
