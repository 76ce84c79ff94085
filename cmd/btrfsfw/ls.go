/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2019 Markus Stenberg
 *
 * Created:       Tue Feb 19 17:40:12 2019 mstenber
 * Last modified: Wed Feb 20 11:58:44 2019 mstenber
 * Edit time:     52 min
 *
 */

package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/fingon/go-btrfsfw/fs"
	"github.com/fingon/go-btrfsfw/ondisk"
)

var lsCmd = &cobra.Command{
	Use:   "ls [PATH]",
	Short: "List a directory",
	Args:  cobra.MaximumNArgs(1),
	RunE:  lsFunc,
}

var lsLong, lsHuman bool

func init() {
	lsCmd.Flags().BoolVarP(&lsLong, "long", "l", false, "show attributes")
	lsCmd.Flags().BoolVarP(&lsHuman, "human", "H", false, "human readable sizes")
}

// fileMode converts inode mode bits to os.FileMode.
func fileMode(mode uint32) os.FileMode {
	m := os.FileMode(mode & 0777)
	switch mode & ondisk.ModeTypeMask {
	case ondisk.ModeDir:
		m |= os.ModeDir
	case ondisk.ModeSymlink:
		m |= os.ModeSymlink
	case ondisk.ModeFifo:
		m |= os.ModeNamedPipe
	case ondisk.ModeChrdev:
		m |= os.ModeDevice | os.ModeCharDevice
	case ondisk.ModeBlkdev:
		m |= os.ModeDevice
	case ondisk.ModeSocket:
		m |= os.ModeSocket
	}
	return m
}

func formatSize(size uint64, human bool) string {
	if human {
		return humanize.IBytes(size)
	}
	return strconv.FormatUint(size, 10)
}

func lsFunc(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()
	path := ""
	if len(args) > 0 {
		path = args[0]
	}
	d, err := s.Fs().LookupPath(path)
	if err != nil {
		return err
	}
	entries := []*fs.Dnode{d}
	if d.Type == fs.TypeDir {
		entries, err = d.ReadDirAll()
		if err != nil {
			return err
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
	w := cmd.OutOrStdout()
	if !lsLong {
		for _, e := range entries {
			fmt.Fprintln(w, e.Name)
		}
		return nil
	}
	return lsTable(w, entries)
}

func lsTable(w io.Writer, entries []*fs.Dnode) error {
	t := tablewriter.NewWriter(w)
	t.SetHeader([]string{"Mode", "Links", "UID", "GID", "Size", "Modified", "Name"})
	t.SetBorder(false)
	t.SetAutoWrapText(false)
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, e := range entries {
		st, err := e.Stat()
		if err != nil {
			return err
		}
		name := e.Name
		if e.Type == fs.TypeSymlink {
			target, err := e.Readlink()
			if err != nil {
				return err
			}
			name = fmt.Sprintf("%s -> %s", name, target)
		}
		t.Append([]string{fileMode(st.Mode).String(),
			strconv.Itoa(int(st.NLink)),
			strconv.Itoa(int(st.UID)),
			strconv.Itoa(int(st.GID)),
			formatSize(st.Size, lsHuman),
			st.MTime.UTC().Format("2006-01-02 15:04:05"),
			name})
	}
	t.Render()
	return nil
}
