package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"paincoach-agent/internal/domain"
)

const skPrefixObservation = "OBS#"

// ObservationStore reads pain observations written by the capture form.
// This service never writes or deletes observation records.
type ObservationStore struct {
	api       dynamodbAPI
	tableName string
}

func NewObservationStore(api dynamodbAPI, tableName string) (*ObservationStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &ObservationStore{api: api, tableName: tableName}, nil
}

// Recent returns up to limit observations for the principal, newest first.
func (s *ObservationStore) Recent(ctx context.Context, principal domain.Principal, limit int) ([]domain.Observation, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: principalPK(principal)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixObservation},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	}

	out, err := s.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: observations query: %w", err)
	}

	observations := make([]domain.Observation, 0, len(out.Items))
	for _, item := range out.Items {
		obs, err := itemToObservation(item, principal)
		if err != nil {
			return nil, fmt.Errorf("repository: observations unmarshal: %w", err)
		}
		observations = append(observations, obs)
	}
	return observations, nil
}

func itemToObservation(item map[string]types.AttributeValue, principal domain.Principal) (domain.Observation, error) {
	level, err := intAttr(item, "painLevel")
	if err != nil {
		return domain.Observation{}, err
	}
	location, err := strAttr(item, "location")
	if err != nil {
		return domain.Observation{}, err
	}
	raw, err := strAttr(item, "createdAt")
	if err != nil {
		return domain.Observation{}, err
	}
	// The capture form writes RFC3339 timestamps, with or without fractional
	// seconds.
	createdAt, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return domain.Observation{}, fmt.Errorf("repository: parse attribute \"createdAt\": %w", err)
	}

	return domain.Observation{
		Principal: principal,
		Level:     level,
		Location:  location,
		CreatedAt: createdAt,
	}, nil
}
