/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2019 Markus Stenberg
 *
 * Created:       Tue Feb 19 19:44:08 2019 mstenber
 * Last modified: Wed Feb 20 11:41:27 2019 mstenber
 * Edit time:     18 min
 *
 */

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/fingon/go-btrfsfw/storage/factory"
)

var importCmd = &cobra.Command{
	Use:   "import IMAGE STORE",
	Short: "Copy a device image into an image store",
	Long: `import copies IMAGE (a file or block device) into the image store
STORE, using --backend (which must be an image store backend) and
--codec. The store can then be given as --device.`,
	Args: cobra.ExactArgs(2),
	RunE: importFunc,
}

func importFunc(cmd *cobra.Command, args []string) error {
	src, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer src.Close()
	size, err := src.Seek(0, io.SeekEnd)
	if err != nil {
		return errors.Wrapf(err, "seek %s", args[0])
	}
	config, err := backendConfiguration(args[1])
	if err != nil {
		return err
	}
	m, err := factory.Import(cfg.GetString("backend"), config, src, uint64(size))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s in %d blocks of %s\n", args[1],
		humanize.IBytes(m.Size), m.Blocks, humanize.IBytes(uint64(m.BlockSize)))
	return nil
}
