// stash - command-line client for the file and image storage service.
//
// Sub-commands:
//
//	stash login                        Log in and save the session
//	stash register                     Create an account and log in
//	stash logout                       Forget the saved session
//	stash whoami                       Show the logged-in user
//	stash profile [-name] [-email] [-password]
//	stash ls [-folder id]              List folders and files
//	stash tree                         Show the whole folder hierarchy
//	stash mkdir [-folder id] <name>    Create a folder
//	stash rename <folder-id> <name>    Rename a folder
//	stash rmdir <folder-id>            Delete a folder
//	stash upload [-folder id] <path>...
//	stash download [-folder id] [-o dir] <file>
//	stash rm [-folder id] <file>
//	stash preview [-folder id] <file>
//	stash users                        List users (admin)
//	stash set-roles <user-id> <role,...>
//	stash cache [stats|list|clear]
//	stash shell                        Interactive navigator
package main

import (
	"fmt"
	"os"
)

type command struct {
	run   func(args []string) error
	usage string
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"login":     {cmdLogin, "login [-email addr]"},
		"register":  {cmdRegister, "register [-email addr] [-name name]"},
		"logout":    {cmdLogout, "logout"},
		"whoami":    {cmdWhoami, "whoami"},
		"profile":   {cmdProfile, "profile [-name n] [-email e] [-password]"},
		"ls":        {cmdList, "ls [-folder id]"},
		"tree":      {cmdTree, "tree"},
		"mkdir":     {cmdMkdir, "mkdir [-folder id] <name>"},
		"rename":    {cmdRename, "rename <folder-id> <new-name>"},
		"rmdir":     {cmdRmdir, "rmdir <folder-id>"},
		"upload":    {cmdUpload, "upload [-folder id] <path>..."},
		"download":  {cmdDownload, "download [-folder id] [-o dir] <file-id|name>"},
		"rm":        {cmdRemove, "rm [-folder id] <file-id|name>"},
		"preview":   {cmdPreview, "preview [-folder id] <file-id|name>"},
		"users":     {cmdUsers, "users"},
		"set-roles": {cmdSetRoles, "set-roles <user-id> <role,role,...>"},
		"cache":     {cmdCache, "cache [stats|list|clear]"},
		"shell":     {cmdShell, "shell"},
	}
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	name := os.Args[1]
	if name == "help" || name == "-h" || name == "--help" {
		printUsage()
		return
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", name)
		printUsage()
		os.Exit(1)
	}
	if err := cmd.run(os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", describe(err))
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`stash - file and image storage client

Usage: stash <command> [flags] [args]

Commands:`)
	for _, name := range []string{
		"login", "register", "logout", "whoami", "profile",
		"ls", "tree", "mkdir", "rename", "rmdir",
		"upload", "download", "rm", "preview",
		"users", "set-roles", "cache", "shell",
	} {
		fmt.Printf("  stash %s\n", commands[name].usage)
	}
	fmt.Println(`
Configuration is read from $STASH_CONFIG (YAML), a .env file and
STASH_* environment variables, e.g. STASH_SERVER=http://localhost:3000.`)
}

func usageError(name string) error {
	return fmt.Errorf("usage: stash %s", commands[name].usage)
}
