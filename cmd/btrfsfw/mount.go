/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2019 Markus Stenberg
 *
 * Created:       Tue Feb 19 20:02:17 2019 mstenber
 * Last modified: Wed Feb 20 12:20:45 2019 mstenber
 * Edit time:     21 min
 *
 */

package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/fingon/go-btrfsfw/fusefs"
	"github.com/fingon/go-btrfsfw/mlog"
)

var mountCmd = &cobra.Command{
	Use:   "mount MOUNTPOINT",
	Short: "Serve the volume read-only over FUSE",
	Args:  cobra.ExactArgs(1),
	RunE:  mountFunc,
}

func init() {
	f := mountCmd.Flags()
	f.Bool("allow-other", false, "allow other users to access the mount")
	f.Duration("timeout", time.Minute, "kernel entry and attribute cache timeout")
	cfg.BindPFlag("allow-other", f.Lookup("allow-other"))
	cfg.BindPFlag("timeout", f.Lookup("timeout"))
}

func mountFunc(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()
	opts := fusefs.Options{AllowOther: cfg.GetBool("allow-other"),
		Timeout: cfg.GetDuration("timeout")}
	server, err := fusefs.Mount(s.Fs(), args[0], opts)
	if err != nil {
		return errors.Wrapf(err, "mount %s", args[0])
	}
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		mlog.Printf2("cmd/btrfsfw/mount", "unmounting %s", args[0])
		server.Unmount()
	}()

	// loop is here
	server.Wait()
	return nil
}
