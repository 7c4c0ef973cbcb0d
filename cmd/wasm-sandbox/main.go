package main

import "github.com/gartnera/wasm-sandbox/cmd"

func main() {
	cmd.Execute()
}
