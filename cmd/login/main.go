// Command login authorizes the reading account once and stores the MTProto
// session file the bot reuses.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"github.com/ykvlv/digest-bot/internal/logger"
	"github.com/ykvlv/digest-bot/internal/reader"
)

// loginConfig is the subset of the bot configuration the login needs.
type loginConfig struct {
	APIID       int    `envconfig:"API_ID" required:"true"`
	APIHash     string `envconfig:"API_HASH" required:"true"`
	SessionPath string `envconfig:"SESSION_PATH" default:"./data/telegram.session"`
	Phone       string `envconfig:"PHONE"`
	Password    string `envconfig:"PASSWORD"` // two-step verification, optional
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
}

func main() {
	_ = godotenv.Load()

	var cfg loginConfig
	if err := envconfig.Process("", &cfg); err != nil {
		_, _ = os.Stderr.WriteString("config error: " + err.Error() + "\n")
		os.Exit(2)
	}
	phone := flag.String("phone", cfg.Phone, "phone number of the reading account, international format")
	password := flag.String("password", cfg.Password, "two-step verification password")
	flag.Parse()
	if *phone == "" {
		_, _ = os.Stderr.WriteString("config error: phone is required (-phone or PHONE)\n")
		os.Exit(2)
	}
	if cfg.APIID <= 0 || cfg.APIHash == "" {
		_, _ = os.Stderr.WriteString("config error: API_ID and API_HASH must be set\n")
		os.Exit(2)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		_, _ = os.Stderr.WriteString("logger init error: " + err.Error() + "\n")
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := reader.Options{APIID: cfg.APIID, APIHash: cfg.APIHash, SessionPath: cfg.SessionPath}
	if err := reader.Login(ctx, opts, *phone, *password, stdinCode, log); err != nil {
		log.Fatal("login failed", zap.Error(err))
	}
	log.Info("session saved", zap.String("path", cfg.SessionPath))
}

// stdinCode asks for the login code on the terminal.
func stdinCode(ctx context.Context) (string, error) {
	fmt.Print("Enter the code Telegram sent you: ")
	lines := make(chan string, 1)
	errs := make(chan error, 1)
	go func() {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			errs <- err
			return
		}
		lines <- strings.TrimSpace(line)
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case err := <-errs:
		return "", err
	case code := <-lines:
		if code == "" {
			return "", errors.New("empty code")
		}
		return code, nil
	}
}
