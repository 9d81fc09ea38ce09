package main

import "github.com/ValentinKolb/dConn/cmd"

func main() {
	cmd.Execute()
}
