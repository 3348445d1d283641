package repository

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"paincoach-agent/internal/domain"
)

func makeObservationItem(level int, location, createdAt string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: "USER#user-1"},
		"SK":        &types.AttributeValueMemberS{Value: skPrefixObservation + createdAt},
		"painLevel": &types.AttributeValueMemberN{Value: strconv.Itoa(level)},
		"location":  &types.AttributeValueMemberS{Value: location},
		"createdAt": &types.AttributeValueMemberS{Value: createdAt},
	}
}

func mustObservationStore(t *testing.T, db *fakeDynamo) *ObservationStore {
	t.Helper()
	s, err := NewObservationStore(db, "observation-table")
	require.NoError(t, err)
	return s
}

func TestNewObservationStore_Validation(t *testing.T) {
	_, err := NewObservationStore(nil, "table")
	require.Error(t, err)
	_, err = NewObservationStore(&fakeDynamo{}, "")
	require.Error(t, err)
}

func TestObservationsRecent_HappyPath(t *testing.T) {
	db := &fakeDynamo{
		queryOut: &dynamodb.QueryOutput{
			// Newest first, as DynamoDB returns them.
			Items: []map[string]types.AttributeValue{
				makeObservationItem(7, "lower back", "2026-08-28T09:30:00Z"),
				makeObservationItem(4, "left knee", "2026-08-27T18:15:00Z"),
			},
		},
	}
	s := mustObservationStore(t, db)

	observations, err := s.Recent(context.Background(), "user-1", 5)
	require.NoError(t, err)
	require.Len(t, observations, 2)

	// Newest-first order is preserved for the prompt builder.
	require.Equal(t, domain.Observation{
		Principal: "user-1",
		Level:     7,
		Location:  "lower back",
		CreatedAt: time.Date(2026, 8, 28, 9, 30, 0, 0, time.UTC),
	}, observations[0])
	require.Equal(t, 4, observations[1].Level)

	require.NotNil(t, db.lastQueryIn)
	require.Equal(t, "observation-table", aws.ToString(db.lastQueryIn.TableName))
	require.False(t, aws.ToBool(db.lastQueryIn.ScanIndexForward))
	require.Equal(t, int32(5), aws.ToInt32(db.lastQueryIn.Limit))
}

func TestObservationsRecent_Empty(t *testing.T) {
	db := &fakeDynamo{queryOut: &dynamodb.QueryOutput{}}
	s := mustObservationStore(t, db)

	observations, err := s.Recent(context.Background(), "user-1", 5)
	require.NoError(t, err)
	require.Empty(t, observations)
}

func TestObservationsRecent_QueryError(t *testing.T) {
	db := &fakeDynamo{queryErr: errors.New("boom")}
	s := mustObservationStore(t, db)

	_, err := s.Recent(context.Background(), "user-1", 5)
	require.Error(t, err)
	require.Contains(t, err.Error(), "observations query")
}

func TestObservationsRecent_MalformedLevel(t *testing.T) {
	item := makeObservationItem(7, "lower back", "2026-08-28T09:30:00Z")
	item["painLevel"] = &types.AttributeValueMemberS{Value: "seven"}
	db := &fakeDynamo{queryOut: &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{item}}}
	s := mustObservationStore(t, db)

	_, err := s.Recent(context.Background(), "user-1", 5)
	require.Error(t, err)
	require.Contains(t, err.Error(), "painLevel")
}

func TestObservationsRecent_MalformedTimestamp(t *testing.T) {
	db := &fakeDynamo{queryOut: &dynamodb.QueryOutput{
		Items: []map[string]types.AttributeValue{
			makeObservationItem(7, "lower back", "yesterday"),
		},
	}}
	s := mustObservationStore(t, db)

	_, err := s.Recent(context.Background(), "user-1", 5)
	require.Error(t, err)
	require.Contains(t, err.Error(), "createdAt")
}
