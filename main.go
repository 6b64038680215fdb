package main

import "github.com/hotelops/livesync/cmd"

func main() {
	cmd.Execute()
}
