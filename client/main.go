// Command client is a plain line client for the chat server: server
// lines go to stdout, stdin lines go to the server.
package main

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

func main() {
	serverAddr := pflag.StringP("server", "s", "127.0.0.1:5550", "chat server address (host:port)")
	pflag.Parse()

	if err := run(*serverAddr, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(addr string, in io.Reader, out io.Writer) error {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return err
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		io.Copy(out, conn)
		fmt.Fprintln(out, "Connection closed by server.")
	}()

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := scanner.Text()
		if _, err := conn.Write([]byte(line + "\n")); err != nil {
			return err
		}
		if strings.EqualFold(strings.TrimSpace(line), "/exit") {
			break
		}
	}

	// Wait for the server's goodbye before returning.
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
	return scanner.Err()
}
