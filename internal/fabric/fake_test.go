package fabric

import (
	"crypto/x509"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/hyperledger/fabric-protos-go/ledger/queryresult"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// fakeStub is an in-memory world state. Methods the store does not use
// panic through the nil embedded interface.
type fakeStub struct {
	shim.ChaincodeStubInterface

	state     map[string][]byte
	txID      string
	txTime    time.Time
	eventName string
	event     []byte
	txCount   int
}

func newFakeStub() *fakeStub {
	return &fakeStub{
		state:  make(map[string][]byte),
		txTime: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

// nextTx starts a new transaction.
func (s *fakeStub) nextTx() {
	s.txCount++
	s.txID = fmt.Sprintf("tx%d", s.txCount)
	s.txTime = s.txTime.Add(time.Second)
	s.eventName, s.event = "", nil
}

func (s *fakeStub) GetTxID() string { return s.txID }

func (s *fakeStub) GetTxTimestamp() (*timestamppb.Timestamp, error) {
	return timestamppb.New(s.txTime), nil
}

func (s *fakeStub) GetState(key string) ([]byte, error) {
	return s.state[key], nil
}

func (s *fakeStub) PutState(key string, value []byte) error {
	s.state[key] = append([]byte(nil), value...)
	return nil
}

func (s *fakeStub) SetEvent(name string, payload []byte) error {
	s.eventName, s.event = name, payload
	return nil
}

func (s *fakeStub) CreateCompositeKey(objectType string, attributes []string) (string, error) {
	return "\x00" + objectType + "\x00" + strings.Join(attributes, "\x00") + "\x00", nil
}

func (s *fakeStub) GetStateByRange(start, end string) (shim.StateQueryIteratorInterface, error) {
	return s.iterate(func(key string) bool {
		return !strings.HasPrefix(key, "\x00") && key >= start && key < end
	}), nil
}

func (s *fakeStub) GetStateByPartialCompositeKey(objectType string, attributes []string) (shim.StateQueryIteratorInterface, error) {
	prefix, _ := s.CreateCompositeKey(objectType, attributes)
	return s.iterate(func(key string) bool { return strings.HasPrefix(key, prefix) }), nil
}

func (s *fakeStub) iterate(match func(string) bool) *fakeIterator {
	var keys []string
	for key := range s.state {
		if match(key) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	it := &fakeIterator{}
	for _, key := range keys {
		it.kvs = append(it.kvs, &queryresult.KV{Key: key, Value: s.state[key]})
	}
	return it
}

type fakeIterator struct {
	kvs []*queryresult.KV
	pos int
}

func (it *fakeIterator) HasNext() bool { return it.pos < len(it.kvs) }

func (it *fakeIterator) Next() (*queryresult.KV, error) {
	kv := it.kvs[it.pos]
	it.pos++
	return kv, nil
}

func (it *fakeIterator) Close() error { return nil }

// fakeIdentity is a client identity with fixed attributes.
type fakeIdentity struct {
	id    string
	attrs map[string]string
}

func (f *fakeIdentity) GetID() (string, error)    { return f.id, nil }
func (f *fakeIdentity) GetMSPID() (string, error) { return "Org1MSP", nil }

func (f *fakeIdentity) GetAttributeValue(name string) (string, bool, error) {
	value, ok := f.attrs[name]
	return value, ok, nil
}

func (f *fakeIdentity) AssertAttributeValue(name, value string) error {
	if f.attrs[name] != value {
		return fmt.Errorf("attribute %s is not %s", name, value)
	}
	return nil
}

func (f *fakeIdentity) GetX509Certificate() (*x509.Certificate, error) {
	return nil, nil
}

func enrolled(id, role string) *fakeIdentity {
	return &fakeIdentity{
		id:    "x509::CN=" + id,
		attrs: map[string]string{EnrollmentIDAttribute: id, "role": role},
	}
}
