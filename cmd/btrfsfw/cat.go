/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2019 Markus Stenberg
 *
 * Created:       Tue Feb 19 18:11:05 2019 mstenber
 * Last modified: Wed Feb 20 11:20:17 2019 mstenber
 * Edit time:     31 min
 *
 */

package main

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/fingon/go-btrfsfw/fs"
)

var catCmd = &cobra.Command{
	Use:   "cat PATH...",
	Short: "Write file content to stdout",
	Args:  cobra.MinimumNArgs(1),
	RunE:  catFunc,
}

var statCmd = &cobra.Command{
	Use:   "stat PATH",
	Short: "Show inode attributes",
	Args:  cobra.ExactArgs(1),
	RunE:  statFunc,
}

var readlinkCmd = &cobra.Command{
	Use:   "readlink PATH",
	Short: "Show symlink target",
	Args:  cobra.ExactArgs(1),
	RunE:  readlinkFunc,
}

func catFunc(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()
	for _, path := range args {
		d, err := s.Fs().LookupPath(path)
		if err != nil {
			return err
		}
		if d.Type == fs.TypeDir {
			return errors.Errorf("%s is a directory", path)
		}
		r, err := d.Open()
		if err != nil {
			return err
		}
		if _, err = io.Copy(cmd.OutOrStdout(), r); err != nil {
			return errors.Wrapf(err, "read %s", path)
		}
	}
	return nil
}

func statFunc(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()
	d, err := s.Fs().LookupPathNoFollow(args[0])
	if err != nil {
		return err
	}
	st, err := d.Stat()
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Name: %s\n", args[0])
	fmt.Fprintf(w, "Type: %s\n", st.Type)
	fmt.Fprintf(w, "Inode: %d (subvolume %d, object %d)\n", d.Ino(), d.TreeID(), d.ID)
	fmt.Fprintf(w, "Size: %d (%s)\n", st.Size, humanize.IBytes(st.Size))
	fmt.Fprintf(w, "Used: %d\n", st.UsedBytes)
	fmt.Fprintf(w, "Mode: %s (%o)\n", fileMode(st.Mode), st.Mode)
	fmt.Fprintf(w, "Links: %d\n", st.NLink)
	fmt.Fprintf(w, "Owner: %d/%d\n", st.UID, st.GID)
	fmt.Fprintf(w, "Generation: %d\n", st.Generation)
	fmt.Fprintf(w, "Access: %v\n", st.ATime.UTC())
	fmt.Fprintf(w, "Modify: %v\n", st.MTime.UTC())
	fmt.Fprintf(w, "Change: %v\n", st.CTime.UTC())
	return nil
}

func readlinkFunc(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()
	d, err := s.Fs().LookupPathNoFollow(args[0])
	if err != nil {
		return err
	}
	target, err := d.Readlink()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), target)
	return nil
}
