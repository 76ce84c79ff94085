/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2019 Markus Stenberg
 *
 * Created:       Tue Feb 19 17:03:40 2019 mstenber
 * Last modified: Wed Feb 20 12:31:09 2019 mstenber
 * Edit time:     96 min
 *
 */

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fingon/go-btrfsfw/codec"
	"github.com/fingon/go-btrfsfw/fs"
	"github.com/fingon/go-btrfsfw/mlog"
	"github.com/fingon/go-btrfsfw/storage"
	"github.com/fingon/go-btrfsfw/storage/factory"
	"github.com/fingon/go-btrfsfw/volume"
)

const envPrefix = "BTRFSFW"

var cfgFile string

// cfg holds flag, environment and config file settings; the flags win.
var cfg = viper.New()

var rootCmd = &cobra.Command{
	Use:   "btrfsfw",
	Short: "Read-only btrfs access",
	Long: `btrfsfw reads btrfs volumes from disk images, block devices and
imported image stores, without the kernel driver.

Every --device belongs to one volume; give all devices of a
multi-device volume to read degraded or striped data.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "config file (yaml)")
	pf.StringSliceP("device", "d", nil, "device, image file or image store (repeatable)")
	pf.StringP("backend", "b", "file",
		fmt.Sprintf("device backend (possible: %v)", factory.List()))
	pf.String("codec", "", fmt.Sprintf("image store block codec (possible: %v)", codec.Names()))
	pf.Int("cache-size", storage.DefaultCacheSize, "sectors (or image store blocks) cached per device")
	pf.Int("node-cache-size", 0, "tree nodes cached")
	pf.Uint64("subvolume", 0, "subvolume id to use instead of the default one")
	pf.Bool("skip-checksums", false, "do not verify tree node checksums")
	pf.String("mlog", "", "debug log file pattern (regexp)")

	cfg.BindPFlags(pf)
	cfg.BindPFlag("devices", pf.Lookup("device"))
	cfg.SetEnvPrefix(envPrefix)
	cfg.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	cfg.AutomaticEnv()

	rootCmd.AddCommand(lsCmd, catCmd, statCmd, readlinkCmd, dfCmd,
		subvolumesCmd, verifyCmd, importCmd, mountCmd)
}

func setup(cmd *cobra.Command, args []string) error {
	if cfgFile != "" {
		cfg.SetConfigFile(cfgFile)
		if err := cfg.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "config %s", cfgFile)
		}
	}
	if p := cfg.GetString("mlog"); p != "" {
		mlog.SetPattern(p)
	}
	return nil
}

func backendConfiguration(path string) (config storage.BackendConfiguration, err error) {
	config.Path = path
	config.CacheSize = cfg.GetInt("cache-size")
	if name := cfg.GetString("codec"); name != "" {
		config.Codec, err = codec.ByName(name)
	}
	return
}

// session is the set of opened devices, and the filesystems mounted
// from them. The first one is the master.
type session struct {
	backends []storage.Backend
	fss      []*fs.Fs
}

func (self *session) Fs() *fs.Fs {
	return self.fss[0]
}

func (self *session) Close() {
	for i := len(self.fss) - 1; i >= 0; i-- {
		self.fss[i].Close()
	}
	for _, be := range self.backends {
		be.Close()
	}
}

func openSession() (*session, error) {
	paths := cfg.GetStringSlice("devices")
	if len(paths) == 0 {
		return nil, errors.New("no --device given")
	}
	self := &session{}
	var devs []storage.Device
	name := cfg.GetString("backend")
	for _, path := range paths {
		config, err := backendConfiguration(path)
		if err != nil {
			self.Close()
			return nil, err
		}
		be, err := factory.New(name, config)
		if err != nil {
			self.Close()
			return nil, errors.Wrapf(err, "open %s", path)
		}
		self.backends = append(self.backends, be)
		devs = append(devs, storage.CachingDevice{}.Init(be, config.CacheSize))
	}
	scanner := volume.ScannerFunc(func() ([]storage.Device, error) {
		return devs, nil
	})
	opts := fs.Options{Options: volume.Options{Registry: volume.NewRegistry(),
		Scanner:       scanner,
		NodeCacheSize: cfg.GetInt("node-cache-size"),
		SkipChecksums: cfg.GetBool("skip-checksums")},
		SubvolumeID: cfg.GetUint64("subvolume")}
	for i, dev := range devs {
		f, err := fs.Mount(dev, opts)
		if err != nil {
			self.Close()
			return nil, errors.Wrapf(err, "mount %s", paths[i])
		}
		mlog.Printf2("cmd/btrfsfw/main", "mounted %s slave:%v", paths[i], f.IsSlave())
		self.fss = append(self.fss, f)
	}
	return self, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
