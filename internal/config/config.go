package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Logging struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"logging"`
	Server struct {
		Addr                string   `yaml:"addr"`
		Pprof               bool     `yaml:"pprof"`
		ReadTimeoutSeconds  int      `yaml:"read_timeout_seconds"`
		WriteTimeoutSeconds int      `yaml:"write_timeout_seconds"`
		IdleTimeoutSeconds  int      `yaml:"idle_timeout_seconds"`
		AdminAllowCIDRs     []string `yaml:"admin_allow_cidrs"`
	} `yaml:"server"`
	Market struct {
		Product             string   `yaml:"product"`
		Products            []string `yaml:"products"`
		EventBuffer         int      `yaml:"event_buffer"`
		TopDepth            int      `yaml:"top_depth"`
		HousekeepIntervalMS int      `yaml:"housekeep_interval_ms"`
		StopGraceSeconds    int      `yaml:"stop_grace_seconds"`
	} `yaml:"market"`
	Feeds struct {
		DialTimeoutSeconds int `yaml:"dial_timeout_seconds"`
		PingSeconds        int `yaml:"ping_seconds"`
		PongWaitSeconds    int `yaml:"pong_wait_seconds"`
		Coinbase           struct {
			WSURL string `yaml:"ws_url"`
		} `yaml:"coinbase"`
		Binance struct {
			WSURL      string `yaml:"ws_url"`
			USWSURL    string `yaml:"us_ws_url"`
			Depth      int    `yaml:"depth"`
			IntervalMS int    `yaml:"interval_ms"`
		} `yaml:"binance"`
	} `yaml:"feeds"`
	History struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
		Buffer  int    `yaml:"buffer"`
	} `yaml:"history"`
}

func defaultConfig() Config {
	var c Config
	c.Logging.Level = "info"
	c.Logging.Pretty = false
	c.Server.Addr = ":9090"
	c.Server.Pprof = false
	c.Server.ReadTimeoutSeconds = 5
	c.Server.WriteTimeoutSeconds = 10
	c.Server.IdleTimeoutSeconds = 60
	c.Server.AdminAllowCIDRs = []string{"127.0.0.0/8", "::1/128"}
	c.Market.Product = "BTC-USD"
	c.Market.Products = []string{
		"BTC-USD", "ETH-USD", "SOL-USD", "XRP-USD", "DOGE-USD",
		"ADA-USD", "AVAX-USD", "DOT-USD", "LINK-USD", "MATIC-USD",
		"UNI-USD", "SHIB-USD", "LTC-USD", "NEAR-USD", "ATOM-USD",
		"ARB-USD", "OP-USD", "APT-USD", "FIL-USD", "PEPE-USD",
	}
	c.Market.EventBuffer = 10000
	c.Market.TopDepth = 10
	c.Market.HousekeepIntervalMS = 1000
	c.Market.StopGraceSeconds = 3
	c.Feeds.DialTimeoutSeconds = 10
	c.Feeds.PingSeconds = 20
	c.Feeds.PongWaitSeconds = 60
	c.Feeds.Coinbase.WSURL = "wss://advanced-trade-ws.coinbase.com"
	c.Feeds.Binance.WSURL = "wss://stream.binance.com:9443/ws"
	c.Feeds.Binance.USWSURL = "wss://stream.binance.us:9443/ws"
	c.Feeds.Binance.Depth = 20
	c.Feeds.Binance.IntervalMS = 100
	c.History.Enabled = true
	c.History.Path = "data/history.db"
	c.History.Buffer = 256
	return c
}

func Load() Config {
	c := defaultConfig()
	if path := os.Getenv("CLE_CONFIG"); path != "" {
		if b, err := os.ReadFile(path); err == nil {
			_ = yaml.Unmarshal(b, &c)
		}
	}
	if v := os.Getenv("CLE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("CLE_LOG_PRETTY"); v == "1" || v == "true" {
		c.Logging.Pretty = true
	}
	if v := os.Getenv("CLE_HTTP_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("CLE_PPROF"); v == "1" || v == "true" {
		c.Server.Pprof = true
	}
	if v := os.Getenv("CLE_ADMIN_ALLOW_CIDRS"); v != "" {
		c.Server.AdminAllowCIDRs = splitCSV(v)
	}
	if v := os.Getenv("CLE_PRODUCT"); v != "" {
		c.Market.Product = v
	}
	if v := os.Getenv("CLE_PRODUCTS"); v != "" {
		c.Market.Products = splitCSV(v)
	}
	if v := os.Getenv("CLE_EVENT_BUFFER"); v != "" {
		var n int
		_, _ = fmt.Sscan(v, &n)
		if n > 0 {
			c.Market.EventBuffer = n
		}
	}
	if v := os.Getenv("CLE_TOP_DEPTH"); v != "" {
		var n int
		_, _ = fmt.Sscan(v, &n)
		if n > 0 {
			c.Market.TopDepth = n
		}
	}
	if v := os.Getenv("CLE_COINBASE_WS_URL"); v != "" {
		c.Feeds.Coinbase.WSURL = v
	}
	if v := os.Getenv("CLE_BINANCE_WS_URL"); v != "" {
		c.Feeds.Binance.WSURL = v
	}
	if v := os.Getenv("CLE_BINANCE_US_WS_URL"); v != "" {
		c.Feeds.Binance.USWSURL = v
	}
	if v := os.Getenv("CLE_HISTORY_ENABLED"); v == "0" || v == "false" {
		c.History.Enabled = false
	}
	if v := os.Getenv("CLE_HISTORY_PATH"); v != "" {
		c.History.Path = v
	}
	return c
}

func splitCSV(s string) []string {
	var out []string
	buf := []rune{}
	for _, r := range s {
		if r == ',' {
			if len(buf) > 0 {
				out = append(out, string(buf))
				buf = buf[:0]
			}
			continue
		}
		buf = append(buf, r)
	}
	if len(buf) > 0 {
		out = append(out, string(buf))
	}
	return out
}
