package main

import "github.com/bryanchriswhite/CutoutCam/cmd/cutoutcam/commands"

func main() {
	commands.Execute()
}
