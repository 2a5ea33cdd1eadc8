package fabric

import (
	"fmt"
	"time"

	"github.com/hyperledger/fabric-chaincode-go/shim"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/civicledger/approvald/internal/engine"
)

// EngineOptions derives the engine clock, transaction reference and id
// generator from the stub.
func EngineOptions(stub shim.ChaincodeStubInterface) ([]engine.Option, error) {
	ts, err := stub.GetTxTimestamp()
	if err != nil {
		return nil, fmt.Errorf("failed to read transaction timestamp: %w", err)
	}
	now := txTime(ts)
	txID := stub.GetTxID()

	var n int
	return []engine.Option{
		engine.WithClock(func() time.Time { return now }),
		engine.WithTxRefs(func() string { return txID }),
		engine.WithIDs(func() string {
			n++
			return fmt.Sprintf("%s-%d", txID, n)
		}),
	}, nil
}

func txTime(ts *timestamppb.Timestamp) time.Time {
	if ts == nil {
		return time.Unix(0, 0).UTC()
	}
	return ts.AsTime().UTC()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(timeFormat, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", value, err)
	}
	return t, nil
}
