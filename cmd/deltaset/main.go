// deltaset is the dataset producer daemon. It watches a directory of
// YAML record files and, on a fixed interval, runs a production cycle
// which publishes the dataset to a blob store and announces the produced
// version through Etcd.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"go.deltaset.dev/core/announce"
	"go.deltaset.dev/core/async"
	"go.deltaset.dev/core/blob"
	"go.deltaset.dev/core/blob/codecs"
	"go.deltaset.dev/core/blob/stores"
	"go.deltaset.dev/core/blob/stores/azure"
	storefs "go.deltaset.dev/core/blob/stores/fs"
	"go.deltaset.dev/core/blob/stores/gcs"
	"go.deltaset.dev/core/blob/stores/s3"
	"go.deltaset.dev/core/consumer"
	mbp "go.deltaset.dev/core/mainboilerplate"
	"go.deltaset.dev/core/metrics"
	"go.deltaset.dev/core/producer"
	"gopkg.in/yaml.v2"
)

// Config is the top-level configuration object of the deltaset producer.
var Config = new(struct {
	Producer struct {
		Instance        string             `long:"instance" env:"INSTANCE" description:"Producer instance name. Defaults to a generated pet-name"`
		Store           string             `long:"store" env:"STORE" required:"true" description:"Blob store URL (file://, gs://, s3://, or azure://)"`
		Prefix          string             `long:"prefix" env:"PREFIX" description:"Path prefix under which blobs are published"`
		FileStoreRoot   string             `long:"file-store-root" env:"FILE_STORE_ROOT" description:"Filesystem root of a file:// blob store"`
		StagingDir      string             `long:"staging-dir" env:"STAGING_DIR" description:"Directory for staged blobs. Defaults to a directory under the system temp dir"`
		Compression     codecs.Compression `long:"compression" env:"COMPRESSION" default:"snappy" description:"Compression codec of published blobs (none, gzip, snappy, or zstd)"`
		Interval        time.Duration      `long:"interval" env:"INTERVAL" default:"30s" description:"Interval between production cycles"`
		SnapshotCadence int                `long:"states-between-snapshots" env:"STATES_BETWEEN_SNAPSHOTS" default:"0" description:"Number of producing cycles to skip between snapshot publications"`
		InputDir        string             `long:"input-dir" env:"INPUT_DIR" required:"true" description:"Directory of YAML record files which populate the dataset"`
	} `group:"Producer" namespace:"producer" env-namespace:"PRODUCER"`

	Etcd struct {
		mbp.EtcdConfig
		Key string `long:"key" env:"KEY" default:"/deltaset/announced" description:"Etcd key under which produced versions are announced"`
	} `group:"Etcd" namespace:"etcd" env-namespace:"ETCD"`

	Log         mbp.LogConfig         `group:"Logging" namespace:"log" env-namespace:"LOG"`
	Diagnostics mbp.DiagnosticsConfig `group:"Debug" namespace:"debug" env-namespace:"DEBUG"`
})

// Entry is the record model of the daemon's dataset: one keyed entry per
// input row.
type Entry struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

func main() {
	var parser = flags.NewParser(Config, flags.Default)
	if _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}
	mbp.InitLog(Config.Log)
	mbp.InitDiagnostics(Config.Diagnostics)
	prometheus.MustRegister(metrics.ProducerCollectors()...)

	if Config.Producer.Instance == "" {
		Config.Producer.Instance = petname.Generate(2, "-")
	}
	log.WithFields(log.Fields{
		"instance": Config.Producer.Instance,
		"store":    Config.Producer.Store,
	}).Info("starting producer")

	stores.RegisterProviders(map[string]stores.Constructor{
		"azure": azure.New,
		"file":  storefs.New,
		"gs":    gcs.New,
		"s3":    s3.New,
	})
	if Config.Producer.FileStoreRoot != "" {
		storefs.StoreRoot = Config.Producer.FileStoreRoot
	}

	var store, err = stores.Get(Config.Producer.Store)
	mbp.Must(err, "failed to build blob store", "store", Config.Producer.Store)

	var etcd = Config.Etcd.MustDial()
	var announcer = announce.NewEtcd(etcd, Config.Etcd.Key)
	var publisher = blob.NewStorePublisher(store, Config.Producer.Prefix)

	var opts = []producer.Option{
		producer.WithBlobCompression(Config.Producer.Compression),
		producer.WithNumStatesBetweenSnapshots(Config.Producer.SnapshotCadence),
		producer.WithSnapshotPublishExecutor(producer.GoroutineExecutor),
		producer.WithListeners(metrics.NewListener()),
	}
	if Config.Producer.StagingDir != "" {
		opts = append(opts, producer.WithBlobStagingDir(Config.Producer.StagingDir))
	}

	p, err := producer.New(publisher, announcer, opts...)
	mbp.Must(err, "failed to build producer")
	mbp.Must(p.InitializeDataModel(Entry{}), "failed to initialize data model")

	var ctx = context.Background()

	// Resume the delta chain of a previously-announced version, if any.
	prior, err := announcer.Retrieve(ctx)
	mbp.Must(err, "failed to read announced version")

	if prior != producer.VersionNone {
		retriever, err := consumer.NewStoreRetriever(store, Config.Producer.Prefix)
		mbp.Must(err, "failed to build blob retriever")

		_, err = p.Restore(ctx, prior, retriever)
		mbp.Must(err, "failed to restore producer", "version", prior)

		log.WithField("version", prior).Info("restored producer")
	}

	var signalCh = make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGTERM, syscall.SIGINT)

	var done = make(async.Promise)
	go func() {
		var sig = <-signalCh
		log.WithField("signal", sig).Info("caught signal; draining")
		done.Resolve()
	}()

	done.WaitWithPeriodicTask(Config.Producer.Interval, func() {
		if err := p.RunCycle(ctx, populateFromInputDir); err != nil {
			log.WithField("err", err).Error("cycle validation failed")
		}
	})
	log.Info("producer stopped")
}

// populateFromInputDir adds every entry of every YAML file under the
// input directory to the write state.
func populateFromInputDir(_ context.Context, ws *producer.WriteState) error {
	return filepath.Walk(Config.Producer.InputDir,
		func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			} else if info.IsDir() {
				return nil
			}
			switch filepath.Ext(path) {
			case ".yaml", ".yml":
			default:
				return nil
			}

			raw, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			var entries []Entry
			if err = yaml.Unmarshal(raw, &entries); err != nil {
				return err
			}
			for _, entry := range entries {
				if _, err = ws.Add(entry); err != nil {
					return err
				}
			}
			return nil
		})
}
