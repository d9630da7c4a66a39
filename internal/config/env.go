package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Environment variables that override the configuration file. Where two
// names are listed the first one set wins; the NEXT_PUBLIC_ names are the
// ones the web client's .env files use.
var (
	envIdentity        = []string{"BMAIL_IDENTITY"}
	envRPCURL          = []string{"BMAIL_RPC_URL"}
	envContract        = []string{"BMAIL_CONTRACT_ADDRESS", "NEXT_PUBLIC_CONTRACT_ADDRESS"}
	envStakingContract = []string{"BMAIL_STAKING_CONTRACT_ADDRESS", "NEXT_PUBLIC_STAKING_CONTRACT_ADDRESS"}
	envSigningKey      = []string{"BMAIL_SIGNING_KEY"}
	envChainID         = []string{"BMAIL_CHAIN_ID"}
	envPinataJWT       = []string{"BMAIL_PINATA_JWT", "NEXT_PUBLIC_PINATA_JWT"}
	envKuboAPI         = []string{"BMAIL_KUBO_API"}
	envGateways        = []string{"BMAIL_GATEWAYS"}
	envDirectoryURL    = []string{"BMAIL_DIRECTORY_URL"}
	envDataDir         = []string{"BMAIL_DATA_DIR"}
	envLogLevel        = []string{"BMAIL_LOG_LEVEL"}
)

func first(lookup LookupFunc, names []string) (string, bool) {
	for _, name := range names {
		if v, ok := lookup(name); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v, true
			}
		}
	}
	return "", false
}

// ApplyEnv overrides cfg with values found through lookup.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	cfg.fixup()

	strs := []struct {
		names []string
		dst   *string
	}{
		{envIdentity, &cfg.Identity},
		{envRPCURL, &cfg.Ledger.RPCURL},
		{envContract, &cfg.Ledger.ContractAddress},
		{envStakingContract, &cfg.Ledger.StakingContractAddress},
		{envSigningKey, &cfg.Ledger.SigningKey},
		{envPinataJWT, &cfg.Content.PinataJWT},
		{envKuboAPI, &cfg.Content.KuboAPI},
		{envDirectoryURL, &cfg.Directory.URL},
		{envDataDir, &cfg.KeyStore.DataDir},
		{envLogLevel, &cfg.Logging.Level},
	}
	for _, s := range strs {
		if v, ok := first(lookup, s.names); ok {
			*s.dst = v
		}
	}

	if v, ok := first(lookup, envChainID); ok {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: %s: %w", envChainID[0], err)
		}
		cfg.Ledger.ChainID = id
	}

	if v, ok := first(lookup, envGateways); ok {
		var gateways []string
		for _, g := range strings.Split(v, ",") {
			if g = strings.TrimSpace(g); g != "" {
				gateways = append(gateways, g)
			}
		}
		cfg.Content.Gateways = gateways
	}
	return nil
}
