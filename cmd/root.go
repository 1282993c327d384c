// Package cmd wires the helpthread CLI: the REST server plus the device-side
// surfaces (tagging, listing, suggestion threads, storage maintenance).
package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/helpthread/helpthread/internal/config"
	"github.com/helpthread/helpthread/internal/helpthread"
	"github.com/helpthread/helpthread/internal/syncclient"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "helpthread",
	Short: "Tag colleagues for help on email threads",
	Long: `helpthread keeps a shared record of email threads colleagues were tagged
on for help, with a running suggestion thread per email.

It can run as:
  - The REST server other devices sync against (serve)
  - A client for tagging, listing and replying from the terminal`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		logger, err = cfg.Logging.BuildLogger()
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var version = "dev"

func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "helpthread version %s\n" .Version}}`)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default helpthread.yaml in . or ~/.helpthread)")
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newTagCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newMessageCmd())
	rootCmd.AddCommand(newMessagesCmd())
	rootCmd.AddCommand(newStorageCmd())
	rootCmd.AddCommand(newWatchCmd())
}

// newLocalStore opens the client-side record cache.
func newLocalStore() *helpthread.Store {
	cacheFile := cfg.Client.CacheFile
	if cacheFile == "" {
		cacheFile = config.DefaultCacheFile
	}
	return helpthread.NewStoreWithOptions(helpthread.StoreOptions{
		StateFile:      cacheFile,
		DisableSweeper: true,
	})
}

// newSyncClient builds the client stack: local cache, remote mirror,
// identity chain, notifier.
func newSyncClient() (*syncclient.Client, *helpthread.Store, error) {
	store := newLocalStore()

	var notifier syncclient.Notifier
	if cfg.Notifications.Method == "none" {
		notifier = syncclient.NopNotifier{}
	} else {
		notifier = syncclient.LogNotifier{Logger: logger}
	}

	client, err := syncclient.New(syncclient.Options{
		Store:  store,
		Remote: syncclient.NewHTTPRemote(cfg.Client.ServerURL, nil),
		Identity: syncclient.IdentityChain{
			Resolvers: []syncclient.Resolver{
				syncclient.CachedResolver{Store: store},
				syncclient.StaticResolver{Email: cfg.Client.UserEmail},
				syncclient.UserinfoResolver{URL: cfg.Client.UserinfoURL, Token: cfg.Client.UserinfoToken},
				syncclient.FeedResolver{URL: cfg.Client.FeedURL},
			},
			Logger: logger,
		},
		Notifier: notifier,
		Logger:   logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return client, store, nil
}
