// Package main is the entry point for barcctl, a thin interactive
// client for the session protocol: it dials a barcd control-plane
// listener, optionally authenticates, and issues a single command
// (trigger/abort/info/ping) before exiting.
package main

import (
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/coldroot-labs/barc/internal/mux"
	"github.com/coldroot-labs/barc/internal/session"
	"github.com/coldroot-labs/barc/internal/wire"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const dialTimeout = 10 * time.Second
const commandTimeout = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type globalFlags struct {
	addr     string
	password string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "barcctl",
		Short: "barcctl — interactive client for the barcd session protocol",
	}
	root.PersistentFlags().StringVar(&flags.addr, "addr", envOrDefault("BARCCTL_ADDR", "localhost:9876"), "control-plane address (host:port)")
	root.PersistentFlags().StringVar(&flags.password, "password", envOrDefault("BARCCTL_PASSWORD", ""), "AUTHORIZE password, if the server requires one")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newPingCmd(flags))
	root.AddCommand(newTriggerCmd(flags))
	root.AddCommand(newAbortCmd(flags))
	root.AddCommand(newInfoCmd(flags))

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("barcctl %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func newPingCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "PING the server and print its reply",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(flags, func(m *mux.Mux) error {
				return execute(m, "PING", wire.NewArgs())
			})
		},
	}
}

func newTriggerCmd(flags *globalFlags) *cobra.Command {
	var archiveType, customText string
	c := &cobra.Command{
		Use:   "trigger <job-uuid>",
		Short: "send JOB_TRIGGER for a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdArgs := wire.NewArgs().
				Set("uuid", args[0]).
				Set("archiveType", archiveType).
				Set("customText", customText)
			return withSession(flags, func(m *mux.Mux) error {
				return execute(m, "JOB_TRIGGER", cmdArgs)
			})
		},
	}
	c.Flags().StringVar(&archiveType, "archive-type", "full", "archive type (normal, full, incremental, differential, continuous)")
	c.Flags().StringVar(&customText, "custom-text", "", "custom text recorded with the run")
	return c
}

func newAbortCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "abort <job-uuid>",
		Short: "send JOB_ABORT for a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdArgs := wire.NewArgs().Set("uuid", args[0])
			return withSession(flags, func(m *mux.Mux) error {
				return execute(m, "JOB_ABORT", cmdArgs)
			})
		},
	}
}

func newInfoCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "info <job-uuid>",
		Short: "send JOB_INFO and print the running-info snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdArgs := wire.NewArgs().Set("uuid", args[0])
			return withSession(flags, func(m *mux.Mux) error {
				return execute(m, "JOB_INFO", cmdArgs)
			})
		},
	}
}

// withSession dials addr, performs the SESSION handshake and an
// AUTHORIZE round trip if a password is configured, starts the mux's
// read loop, runs fn, then tears the connection down.
func withSession(flags *globalFlags, fn func(m *mux.Mux) error) error {
	conn, err := net.DialTimeout("tcp", flags.addr, dialTimeout)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", flags.addr, err)
	}
	defer conn.Close()

	sess, err := session.Dial(conn, dialTimeout)
	if err != nil {
		return fmt.Errorf("session handshake: %w", err)
	}
	defer sess.Close()

	m := mux.New(sess, nil)
	stop := make(chan struct{})
	go m.Run(stop)
	defer close(stop)

	if flags.password != "" {
		if err := authorize(m, sess, flags.password); err != nil {
			return err
		}
	}

	return fn(m)
}

// authorize performs the AUTHORIZE round trip: the password is XORed
// with the session id and then, if the session negotiated RSA, encrypted
// under the server's public key before transmission.
func authorize(m *mux.Mux, sess *session.Session, password string) error {
	encType := sess.EncryptType()
	ciphertext, err := session.EncryptCleartext(encType, []byte(password), sess.SessionID(), sess.PeerPublicKey())
	if err != nil {
		return fmt.Errorf("encrypting password: %w", err)
	}

	args := wire.NewArgs().
		Set("encryptType", encType.String()).
		Set("password", "hex:"+hex.EncodeToString(ciphertext))

	if err := execute(m, "AUTHORIZE", args); err != nil {
		return fmt.Errorf("AUTHORIZE failed: %w", err)
	}
	sess.MarkAuthorized()
	return nil
}

func execute(m *mux.Mux, name string, args *wire.Args) error {
	return m.Execute(name, args, func(res *wire.Result) error {
		fmt.Printf("completed=%t errorCode=%d\n", res.Completed, res.ErrorCode)
		for _, k := range res.Args.Keys() {
			v, _ := res.Args.Get(k)
			fmt.Printf("  %s=%s\n", k, v)
		}
		return nil
	}, commandTimeout)
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
