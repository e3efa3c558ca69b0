// Command vaultctl drives a zkvault server from the terminal. Every
// passphrase is read from the terminal and used only in this process.
package main

func main() {
	Execute()
}
