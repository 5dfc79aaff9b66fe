package main

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/chatbroker/internal/providerstub"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	addr := os.Getenv("ADDR")
	if strings.TrimSpace(addr) == "" {
		addr = ":8081"
	}
	stub := &providerstub.Stub{Model: os.Getenv("MODEL_ID")}
	if n, err := strconv.Atoi(os.Getenv("PENDING_POLLS")); err == nil && n > 0 {
		stub.PendingPolls = n
	}
	if d, err := time.ParseDuration(os.Getenv("TOKEN_TTL")); err == nil && d > 0 {
		stub.TokenTTL = d
	}
	if os.Getenv("VERBOSE") != "" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().Str("addr", addr).Str("model", stub.Model).Msg("provider-stub listening")
	base := "http://localhost" + addr
	if !strings.HasPrefix(addr, ":") {
		base = "http://" + addr
	}
	log.Info().Msgf("export BROKER_CLIENT_ID=stub BROKER_DEVICE_CODE_URL=%s%s BROKER_TOKEN_URL=%s%s BROKER_TOKEN_EXCHANGE_URL=%s%s BROKER_CHAT_BASE_URL=%s",
		base, providerstub.DeviceCodePath, base, providerstub.TokenPath, base, providerstub.ExchangePath, base)

	srv := &http.Server{Addr: addr, Handler: stub.Handler(), ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		log.Fatal().Err(err).Msg("provider-stub stopped")
	}
}
