package daemon

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/sempr/labjudge/internal/queue"
	"github.com/sempr/labjudge/pkg/constants"
)

// Config stores all configuration for labjudged.
type Config struct {
	Home   string
	Debug  bool
	Once   bool
	Worker int

	QueueBackend string
	RedisServer  string
	RedisPort    int
	RedisAuth    string
	RedisQName   string
	AMQPURL      string

	SleepTime        int
	MaxRunning       int
	TimeLimitMs      int
	CompileTimeoutMs int
	PublishRetry     int
	PublishTests     bool
	AwaitTimeout     int
	SaveOutput       bool

	DBDriver   string
	HostName   string
	PortNumber int
	UserName   string
	Password   string
	DBName     string
}

var configKeys = []string{
	"OJ_QUEUE_BACKEND", "OJ_REDISSERVER", "OJ_REDISPORT", "OJ_REDISAUTH", "OJ_REDISQNAME", "OJ_AMQP_URL",
	"OJ_SLEEP_TIME", "OJ_RUNNING", "OJ_TIME_LIMIT_MS", "OJ_COMPILE_TIMEOUT_MS", "OJ_PUBLISH_RETRY",
	"OJ_PUBLISH_TESTS", "OJ_AWAIT_TIMEOUT", "OJ_SAVE_OUTPUT",
	"OJ_DB_DRIVER", "OJ_HOST_NAME", "OJ_PORT_NUMBER", "OJ_USER_NAME", "OJ_PASSWORD", "OJ_DB_NAME",
}

func defaultConfig() *Config {
	return &Config{
		QueueBackend:     "redis",
		RedisServer:      "127.0.0.1",
		RedisPort:        6379,
		RedisQName:       constants.DefaultQueueName,
		SleepTime:        int(constants.DefaultPollInterval / time.Second),
		MaxRunning:       constants.DefaultConcurrency,
		TimeLimitMs:      int(constants.DefaultTimeLimit / time.Millisecond),
		CompileTimeoutMs: int(constants.DefaultCompileTimeout / time.Millisecond),
		PublishRetry:     constants.DefaultPublishRetry,
		PublishTests:     true,
		AwaitTimeout:     int(constants.DefaultAwaitTimeout / time.Second),
		PortNumber:       3306,
	}
}

// LoadConfig reads the judge.conf file and returns a Config struct.
// A missing file yields the defaults. Environment variables named like the
// keys take precedence over the file.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	file, err := os.Open(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		slog.Warn("config file not found, using defaults", "path", path)
	case err != nil:
		return nil, fmt.Errorf("could not open %s: %w", path, err)
	default:
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}

			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}
			assignConfigValue(cfg, strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]))
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	for _, key := range configKeys {
		if value, ok := os.LookupEnv(key); ok {
			assignConfigValue(cfg, key, value)
		}
	}
	return cfg, nil
}

func atoi(value string, fallback int) int {
	v, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn("ignoring non-numeric config value", "value", value)
		return fallback
	}
	return v
}

func boolValue(value string) bool {
	v, _ := strconv.Atoi(value)
	return v == 1 || strings.EqualFold(value, "true")
}

func assignConfigValue(cfg *Config, key, value string) {
	switch key {
	case "OJ_QUEUE_BACKEND":
		cfg.QueueBackend = strings.ToLower(value)
	case "OJ_REDISSERVER":
		cfg.RedisServer = value
	case "OJ_REDISPORT":
		cfg.RedisPort = atoi(value, cfg.RedisPort)
	case "OJ_REDISAUTH":
		cfg.RedisAuth = value
	case "OJ_REDISQNAME":
		cfg.RedisQName = value
	case "OJ_AMQP_URL":
		cfg.AMQPURL = value
	case "OJ_SLEEP_TIME":
		cfg.SleepTime = atoi(value, cfg.SleepTime)
	case "OJ_RUNNING":
		cfg.MaxRunning = atoi(value, cfg.MaxRunning)
	case "OJ_TIME_LIMIT_MS":
		cfg.TimeLimitMs = atoi(value, cfg.TimeLimitMs)
	case "OJ_COMPILE_TIMEOUT_MS":
		cfg.CompileTimeoutMs = atoi(value, cfg.CompileTimeoutMs)
	case "OJ_PUBLISH_RETRY":
		cfg.PublishRetry = atoi(value, cfg.PublishRetry)
	case "OJ_PUBLISH_TESTS":
		cfg.PublishTests = boolValue(value)
	case "OJ_AWAIT_TIMEOUT":
		cfg.AwaitTimeout = atoi(value, cfg.AwaitTimeout)
	case "OJ_SAVE_OUTPUT":
		cfg.SaveOutput = boolValue(value)
	case "OJ_DB_DRIVER":
		cfg.DBDriver = strings.ToLower(value)
	case "OJ_HOST_NAME":
		cfg.HostName = value
	case "OJ_PORT_NUMBER":
		cfg.PortNumber = atoi(value, cfg.PortNumber)
	case "OJ_USER_NAME":
		cfg.UserName = value
	case "OJ_PASSWORD":
		cfg.Password = value
	case "OJ_DB_NAME":
		cfg.DBName = value
	}
}

func (c *Config) RedisAddr() string {
	return net.JoinHostPort(c.RedisServer, strconv.Itoa(c.RedisPort))
}

func (c *Config) QueueOptions() queue.Options {
	return queue.Options{
		Backend:       c.QueueBackend,
		RedisAddr:     c.RedisAddr(),
		RedisPassword: c.RedisAuth,
		Name:          c.RedisQName,
		AMQPURL:       c.AMQPURL,
	}
}

// DSN is empty when no database is configured.
func (c *Config) DSN() string {
	if c.DBDriver == "" || c.HostName == "" {
		return ""
	}
	switch c.DBDriver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			c.HostName, c.PortNumber, c.UserName, c.Password, c.DBName)
	default:
		mc := mysql.NewConfig()
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(c.HostName, strconv.Itoa(c.PortNumber))
		mc.User = c.UserName
		mc.Passwd = c.Password
		mc.DBName = c.DBName
		mc.ParseTime = true
		return mc.FormatDSN()
	}
}

func (c *Config) PollInterval() time.Duration {
	if c.SleepTime <= 0 {
		return constants.DefaultPollInterval
	}
	return time.Duration(c.SleepTime) * time.Second
}

func (c *Config) TimeLimit() time.Duration {
	return time.Duration(c.TimeLimitMs) * time.Millisecond
}

func (c *Config) CompileTimeout() time.Duration {
	return time.Duration(c.CompileTimeoutMs) * time.Millisecond
}

func (c *Config) AwaitDuration() time.Duration {
	return time.Duration(c.AwaitTimeout) * time.Second
}
