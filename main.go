package main

import "github.com/gbabichev/Twinalyzer-sub001/cmd"

func main() {
	cmd.Execute()
}
