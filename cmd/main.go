package main

import (
	"context"
	"os"
	"strconv"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"go.uber.org/zap"

	"paincoach-agent/handler"
	"paincoach-agent/internal/integrations/ollama"
	"paincoach-agent/internal/integrations/paramstore"
	"paincoach-agent/internal/repository"
	"paincoach-agent/internal/usecase"
)

func main() {
	ctx := context.Background()

	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	// ---- Configuration (read only here) ----
	conversationTable := mustEnv(logger, "CONVERSATION_TABLE")
	observationTable := mustEnv(logger, "OBSERVATION_TABLE")
	paramPrefix := mustEnv(logger, "PARAM_PREFIX")
	generationURL := os.Getenv("GENERATION_BASE_URL")
	observationLimit := envInt("OBSERVATION_LIMIT", 5)
	maxMessageLen := envInt("MAX_MESSAGE_LENGTH", 4000)
	historyLimit := envInt("HISTORY_LIMIT", 50)

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("failed to load AWS config", zap.Error(err))
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		logger.Error("failed to create SSM client", zap.Error(err))
		os.Exit(1)
	}
	dynamoClient := awsdynamodb.NewFromConfig(cfg)
	conversations, err := repository.NewConversationStore(dynamoClient, conversationTable)
	if err != nil {
		logger.Error("failed to create conversation store", zap.Error(err))
		os.Exit(1)
	}
	observations, err := repository.NewObservationStore(dynamoClient, observationTable)
	if err != nil {
		logger.Error("failed to create observation store", zap.Error(err))
		os.Exit(1)
	}
	generation, err := ollama.NewClient(ollama.WithBaseURL(generationURL))
	if err != nil {
		logger.Error("failed to create generation client", zap.Error(err))
		os.Exit(1)
	}

	// ---- Handler ----
	relay, err := usecase.NewRelayService(ssmClient, generation, conversations, observations, logger, paramPrefix, observationLimit, maxMessageLen, historyLimit)
	if err != nil {
		logger.Error("failed to create relay service", zap.Error(err))
		os.Exit(1)
	}

	h, err := handler.NewHandler(relay, logger)
	if err != nil {
		logger.Error("failed to create handler", zap.Error(err))
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func mustEnv(logger *zap.Logger, key string) string {
	v := os.Getenv(key)
	if v == "" {
		logger.Error("required environment variable is not set", zap.String("key", key))
		os.Exit(1)
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
