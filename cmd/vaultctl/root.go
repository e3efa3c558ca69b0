package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"zkvault/internal/client"
	"zkvault/internal/config"
	"zkvault/internal/keeper"
	"zkvault/internal/rotation"
	"zkvault/internal/session"
	"zkvault/internal/vaultcrypto"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "vaultctl",
	Short: "Zero-knowledge vault client",
	Long: `vaultctl encrypts credentials locally under a master passphrase and stores
only ciphertext on a zkvault server. The passphrase never leaves this process
except for the server's own hash check.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.vaultctl.yaml)")
	rootCmd.PersistentFlags().String("server", "", "vault server URL")
	rootCmd.PersistentFlags().String("token", "", "API access token")
	rootCmd.PersistentFlags().String("device", "", "device id reported to the server")
	rootCmd.PersistentFlags().Int("kdf-iterations", 0, "PBKDF2 iterations for new envelopes")

	bindFlagOrPanic("server_url", "server")
	bindFlagOrPanic("token", "token")
	bindFlagOrPanic("device_id", "device")
	bindFlagOrPanic("kdf_iterations", "kdf-iterations")
}

func bindFlagOrPanic(configKey, flagName string) {
	if err := viper.BindPFlag(configKey, rootCmd.PersistentFlags().Lookup(flagName)); err != nil {
		panic(fmt.Sprintf("failed to bind %s flag: %v", flagName, err))
	}
}

func initConfig() {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".vaultctl")
	}

	viper.SetEnvPrefix("VAULT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		}
	}
}

// setDefaults seeds viper from the shared .env-backed config so the server
// and the CLI agree on KDF and session parameters.
func setDefaults() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v, using built-in defaults\n", err)
		viper.SetDefault("server_url", "http://localhost:8080")
		viper.SetDefault("kdf_iterations", vaultcrypto.DefaultIterations)
		viper.SetDefault("session_ttl", session.DefaultTTL)
		return
	}

	viper.SetDefault("server_url", cfg.Client.ServerURL)
	viper.SetDefault("token", cfg.Client.Token)
	viper.SetDefault("device_id", cfg.Client.DeviceID)
	viper.SetDefault("kdf_iterations", cfg.Crypto.KDFIterations)
	viper.SetDefault("kdf_workers", cfg.Crypto.KDFWorkers)
	viper.SetDefault("session_ttl", cfg.Session.TTL)
	viper.SetDefault("session_background_ttl", cfg.Session.BackgroundTTL)
	viper.SetDefault("jwt_secret", cfg.JWT.Secret)
	viper.SetDefault("jwt_expiration", cfg.JWT.Expiration)
}

func serverURL() string {
	return viper.GetString("server_url")
}

func deviceID() string {
	if id := viper.GetString("device_id"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil {
		return "vaultctl-" + host
	}
	return "vaultctl-" + uuid.NewString()[:8]
}

func newClient() (*client.Client, error) {
	token := viper.GetString("token")
	if token == "" {
		return nil, fmt.Errorf("an access token is required: use --token or VAULT_TOKEN")
	}
	return client.New(serverURL(), token, client.WithDeviceID(deviceID()))
}

func newKeeper(opts ...keeper.Option) (*keeper.Keeper, error) {
	c, err := newClient()
	if err != nil {
		return nil, err
	}

	cipherOpts := []vaultcrypto.Option{vaultcrypto.WithWorkers(viper.GetInt("kdf_workers"))}
	if n := viper.GetInt("kdf_iterations"); n > 0 {
		cipherOpts = append(cipherOpts, vaultcrypto.WithIterations(n))
	}
	cipher := vaultcrypto.New(cipherOpts...)
	sess := session.New(
		session.WithTTL(viper.GetDuration("session_ttl")),
		session.WithBackgroundTTL(viper.GetDuration("session_background_ttl")),
	)

	opts = append([]keeper.Option{keeper.WithTTL(viper.GetDuration("session_ttl"))}, opts...)
	return keeper.New(cipher, c, sess, opts...), nil
}

// unlocked builds a keeper and unlocks it with a prompted passphrase.
func unlocked(ctx context.Context, opts ...keeper.Option) (*keeper.Keeper, error) {
	k, err := newKeeper(opts...)
	if err != nil {
		return nil, err
	}

	pass, err := promptSecret("Master password: ")
	if err != nil {
		return nil, err
	}

	if err := k.Unlock(ctx, pass); err != nil {
		k.Close()
		return nil, err
	}
	return k, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printProgress(p rotation.Progress) {
	switch p.Stage {
	case rotation.StageReencrypt:
		fmt.Fprintf(os.Stderr, "\rRe-encrypting records: %d/%d", p.Done, p.Total)
	case rotation.StageCommit:
		fmt.Fprintf(os.Stderr, "\nCommitting %d records...\n", p.Total)
	default:
		fmt.Fprintf(os.Stderr, "%s...\n", p.Stage)
	}
}
