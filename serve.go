package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/devatadev/gowvkeys/keys"
	"github.com/devatadev/gowvkeys/license"
	"github.com/devatadev/gowvkeys/meta"
	"github.com/devatadev/gowvkeys/wv"
)

type Config struct {
	Serve    Serve           `yaml:"serve"`
	Device   string          `yaml:"device"`
	Metadata Metadata        `yaml:"metadata"`
	License  License         `yaml:"license"`
	Users    map[string]User `yaml:"users"`
}

type Serve struct {
	Port int64  `yaml:"port"`
	Host string `yaml:"host"`
	Mode string `yaml:"mode"`
}

type Metadata struct {
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type License struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

type User struct {
	Name string `yaml:"name"`
}

func readConfig(path string) (*Config, error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := yaml.Unmarshal(yamlFile, &config); err != nil {
		return nil, err
	}

	return &config, nil
}

func normalizeMode(mode string) string {
	if mode == "" || mode == "prod" || mode == "production" || mode == "release" {
		return "release"
	}
	return "debug"
}

func newLogger(mode string) (*zap.Logger, error) {
	if mode == "release" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// keyFetcher is what the /jass_keys handler needs from the orchestrator.
type keyFetcher interface {
	Fetch(ctx context.Context, req keys.Request) ([]keys.Key, error)
}

func statusFor(err error) int {
	if errors.Is(err, keys.ErrEmptyContentID) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func newRouter(config *Config, fetcher keyFetcher, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	// request id + response headers
	router.Use(func(c *gin.Context) {
		requestID := uuid.NewString()
		c.Set("request_id", requestID)
		c.Header("X-Request-Id", requestID)
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, X-Requested-With, Content-Type, Accept")
		c.Header("X-Request-Via", "GoWVKeys")
		c.Next()
	})

	// middleware check for secret key, only when users are configured
	if len(config.Users) > 0 {
		router.Use(func(c *gin.Context) {
			secretKey := c.Request.Header["X-Secret-Key"]
			if secretKey == nil {
				c.JSON(401, gin.H{
					"status":  401,
					"message": "Unauthorized",
				})
				c.Abort()
				return
			}
			user := config.Users[secretKey[0]]
			if user.Name == "" {
				c.JSON(401, gin.H{
					"status":  401,
					"message": "Unauthorized",
				})
				c.Abort()
				return
			}
			c.Set("user", user.Name)
			c.Next()
		})
	}

	router.GET("/", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  200,
			"message": "GoWVKeys is running!",
		})
	})

	router.HEAD("/", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  200,
			"message": "GoWVKeys is running!",
		})
	})

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  200,
			"message": "pong",
		})
	})

	router.GET("/jass_keys", func(c *gin.Context) {
		id := c.Query("id")
		begin := c.Query("begin")
		end := c.Query("end")

		requestID := c.GetString("request_id")
		log := logger.With(zap.String("request_id", requestID))

		log.Info("processing key request",
			zap.String("id", id),
			zap.String("begin", begin),
			zap.String("end", end))

		result, err := fetcher.Fetch(c.Request.Context(), keys.Request{
			ContentID: id,
			Begin:     begin,
			End:       end,
		})
		if err != nil {
			log.Error("key request failed", zap.String("id", id), zap.Error(err))
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"keys": result})
	})

	return router
}

func main() {
	// optional .env for local overrides
	_ = godotenv.Load()

	configPath := os.Getenv("GOWVKEYS_CONFIG")
	if configPath == "" {
		configPath = "./serve.yaml"
	}

	config, err := readConfig(configPath)
	if err != nil {
		panic(err)
	}

	mode := normalizeMode(config.Serve.Mode)
	logger, err := newLogger(mode)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	provider := wv.NewIdentityProvider(config.Device)
	cdm := wv.NewCDM()
	metaClient := meta.NewClient(
		config.Metadata.URL,
		time.Duration(config.Metadata.TimeoutSeconds)*time.Second,
		logger)
	licenseClient := license.NewClient(
		time.Duration(config.License.TimeoutSeconds)*time.Second,
		logger)

	orchestrator := keys.NewOrchestrator(provider, cdm, metaClient, licenseClient, logger)
	router := newRouter(config, orchestrator, logger)

	address := config.Serve.Host + ":" + strconv.FormatInt(config.Serve.Port, 10)
	logger.Info("server starting", zap.String("address", address), zap.String("mode", mode))

	if err := router.Run(address); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
