// dsctl is the deltaset operator CLI: it lists published blobs and reads
// the announced version of a dataset.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jessevdk/go-flags"
	"github.com/olekukonko/tablewriter"
	"go.deltaset.dev/core/announce"
	"go.deltaset.dev/core/blob"
	"go.deltaset.dev/core/blob/stores"
	"go.deltaset.dev/core/blob/stores/azure"
	storefs "go.deltaset.dev/core/blob/stores/fs"
	"go.deltaset.dev/core/blob/stores/gcs"
	"go.deltaset.dev/core/blob/stores/s3"
	mbp "go.deltaset.dev/core/mainboilerplate"
)

// Config is the top-level configuration object of dsctl.
var Config = new(struct {
	Log mbp.LogConfig `group:"Logging" namespace:"log" env-namespace:"LOG"`
})

type cmdBlobsList struct {
	Store         string `long:"store" env:"STORE" required:"true" description:"Blob store URL (file://, gs://, s3://, or azure://)"`
	Prefix        string `long:"prefix" env:"PREFIX" description:"Path prefix under which blobs are published"`
	FileStoreRoot string `long:"file-store-root" env:"FILE_STORE_ROOT" description:"Filesystem root of a file:// blob store"`
}

func (cmd *cmdBlobsList) Execute([]string) error {
	mbp.InitLog(Config.Log)

	if cmd.FileStoreRoot != "" {
		storefs.StoreRoot = cmd.FileStoreRoot
	}
	var store, err = stores.Get(cmd.Store)
	mbp.Must(err, "failed to build blob store", "store", cmd.Store)

	var table = tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Path", "Kind", "From", "To", "Persisted"})

	err = store.List(context.Background(), cmd.Prefix,
		func(path string, modTime time.Time) error {
			var ref, err = blob.ParseContentPath(path)
			if err != nil {
				return nil // Not a blob; skip.
			}

			var from = "-"
			if ref.Kind != blob.Snapshot {
				from = fmt.Sprintf("%d", ref.From)
			}
			table.Append([]string{
				path,
				ref.Kind.String(),
				from,
				fmt.Sprintf("%d", ref.To),
				humanize.Time(modTime),
			})
			return nil
		})
	mbp.Must(err, "failed to list blobs")

	table.Render()
	return nil
}

type cmdVersionGet struct {
	Etcd struct {
		mbp.EtcdConfig
		Key string `long:"key" env:"KEY" default:"/deltaset/announced" description:"Etcd key under which produced versions are announced"`
	} `group:"Etcd" namespace:"etcd" env-namespace:"ETCD"`
}

func (cmd *cmdVersionGet) Execute([]string) error {
	mbp.InitLog(Config.Log)

	var etcd = cmd.Etcd.MustDial()
	var version, err = announce.RetrieveEtcd(context.Background(), etcd, cmd.Etcd.Key)
	mbp.Must(err, "failed to read announced version")

	if version == blob.VersionNone {
		fmt.Println("no announced version")
	} else {
		fmt.Println(version)
	}
	return nil
}

func main() {
	stores.RegisterProviders(map[string]stores.Constructor{
		"azure": azure.New,
		"file":  storefs.New,
		"gs":    gcs.New,
		"s3":    s3.New,
	})

	var parser = flags.NewParser(Config, flags.Default)

	var _, err = parser.AddCommand("blobs",
		"List published blobs",
		"List the blobs published under a store prefix, with their kinds and version transitions.",
		&cmdBlobsList{})
	mbp.Must(err, "failed to add command")

	_, err = parser.AddCommand("version",
		"Read the announced version",
		"Read the currently-announced dataset version from Etcd.",
		&cmdVersionGet{})
	mbp.Must(err, "failed to add command")

	if _, err = parser.Parse(); err != nil {
		os.Exit(1)
	}
}
