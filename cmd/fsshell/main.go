// Command fsshell is an interactive line shell over the filesys facade:
// create, open/cat, mkdir, cd, ls and rm against one mounted disk image,
// without a kernel underneath it.
//
// Grounded on the teacher's cmd/fsexplorer (a REPL wrapping fs.OpenFile/
// fs.Mkdir/fs.Unlink behind named commands), rebuilt on urfave/cli/v2 for
// startup flags and this module's filesys.Session/Handle instead of the
// teacher's own minixfs.FileSystem.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/pintos-go/filesys/block"
	"github.com/pintos-go/filesys/filesys"
	"github.com/pintos-go/filesys/internal/config"
)

func main() {
	app := &cli.App{
		Name:  "fsshell",
		Usage: "interactive shell over a pintos-go/filesys disk image",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to a YAML config file"},
			&cli.StringFlag{Name: "device", Aliases: []string{"d"}, Usage: "disk image path (overrides config)"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "fsshell:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	device := cfg.Device
	if d := c.String("device"); d != "" {
		device = d
	}

	dev, err := block.OpenFileDevice(device)
	if err != nil {
		return fmt.Errorf("fsshell: opening device: %w", err)
	}
	defer dev.Close()

	fs, err := filesys.Mount(dev)
	if err != nil {
		return fmt.Errorf("fsshell: mounting: %w", err)
	}
	defer fs.Done()

	sess, err := fs.NewSession()
	if err != nil {
		return fmt.Errorf("fsshell: opening session: %w", err)
	}
	defer sess.Close()

	repl(sess)
	return nil
}

func repl(sess *filesys.Session) {
	sc := bufio.NewScanner(os.Stdin)
	fmt.Print("fsshell> ")
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			dispatch(sess, line)
		}
		fmt.Print("fsshell> ")
	}
	fmt.Println()
}

func dispatch(sess *filesys.Session, line string) {
	args := strings.Fields(line)
	cmd, args := args[0], args[1:]

	switch cmd {
	case "create":
		cmdCreate(sess, args)
	case "mkdir":
		cmdMkdir(sess, args)
	case "cd":
		cmdCd(sess, args)
	case "rm":
		cmdRm(sess, args)
	case "ls":
		cmdLs(sess, args)
	case "cat":
		cmdCat(sess, args)
	case "write":
		cmdWrite(sess, args)
	case "help":
		printHelp()
	case "exit", "quit":
		fmt.Println("bye")
		os.Exit(0)
	default:
		fmt.Printf("fsshell: unknown command %q (try \"help\")\n", cmd)
	}
}

func printHelp() {
	fmt.Println(`commands:
  create <path> [initial-size]   make a new zero-filled file (default size 0)
  mkdir  <path>                  make a new empty directory
  cd     <path>                  change the session's working directory
  rm     <path>                  remove a file or empty directory
  ls     [path]                  list a directory's entries (default ".")
  cat    <path>                  print a file's contents
  write  <path> <text>           overwrite a file's contents from offset 0
  exit                           leave the shell`)
}

func cmdCreate(sess *filesys.Session, args []string) {
	if len(args) < 1 {
		fmt.Println("usage: create <path> [initial-size]")
		return
	}
	var size int64
	if len(args) >= 2 {
		n, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			fmt.Println("create: invalid initial size:", err)
			return
		}
		size = n
	}
	if !sess.Create(args[0], size) {
		fmt.Println("create: failed")
	}
}

func cmdMkdir(sess *filesys.Session, args []string) {
	if len(args) != 1 {
		fmt.Println("usage: mkdir <path>")
		return
	}
	if !sess.Mkdir(args[0]) {
		fmt.Println("mkdir: failed")
	}
}

func cmdCd(sess *filesys.Session, args []string) {
	if len(args) != 1 {
		fmt.Println("usage: cd <path>")
		return
	}
	if !sess.Chdir(args[0]) {
		fmt.Println("cd: failed")
	}
}

func cmdRm(sess *filesys.Session, args []string) {
	if len(args) != 1 {
		fmt.Println("usage: rm <path>")
		return
	}
	if !sess.Remove(args[0]) {
		fmt.Println("rm: failed")
	}
}

func cmdLs(sess *filesys.Session, args []string) {
	path := "."
	if len(args) == 1 {
		path = args[0]
	}
	h, err := sess.Open(path)
	if err != nil {
		fmt.Println("ls:", err)
		return
	}
	defer h.Close()
	if !h.IsDir() {
		fmt.Println("ls: not a directory")
		return
	}
	for {
		name, ok, err := h.Readdir()
		if err != nil {
			fmt.Println("ls:", err)
			return
		}
		if !ok {
			return
		}
		fmt.Println(name)
	}
}

func cmdCat(sess *filesys.Session, args []string) {
	if len(args) != 1 {
		fmt.Println("usage: cat <path>")
		return
	}
	h, err := sess.Open(args[0])
	if err != nil {
		fmt.Println("cat:", err)
		return
	}
	defer h.Close()
	if h.IsDir() {
		fmt.Println("cat: is a directory")
		return
	}
	buf := make([]byte, 4096)
	for {
		n, err := h.Read(buf)
		if n > 0 {
			os.Stdout.Write(buf[:n])
		}
		if err != nil {
			fmt.Println()
			fmt.Println("cat:", err)
			return
		}
		if n == 0 {
			fmt.Println()
			return
		}
	}
}

func cmdWrite(sess *filesys.Session, args []string) {
	if len(args) < 2 {
		fmt.Println("usage: write <path> <text>")
		return
	}
	h, err := sess.Open(args[0])
	if err != nil {
		fmt.Println("write:", err)
		return
	}
	defer h.Close()
	if h.IsDir() {
		fmt.Println("write: is a directory")
		return
	}
	text := strings.Join(args[1:], " ")
	if _, err := h.Write([]byte(text)); err != nil {
		fmt.Println("write:", err)
	}
}
