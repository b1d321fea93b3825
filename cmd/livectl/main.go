// Package main is livectl, a terminal client for live shopping sessions:
// go live from IVF/Ogg files, watch a session (optionally recording it) and chat.
package main

func main() {
	Execute()
}
