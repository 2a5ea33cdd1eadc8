package fabric

import (
	"github.com/hyperledger/fabric-chaincode-go/pkg/cid"

	"github.com/civicledger/approvald/internal/identity"
)

// EnrollmentIDAttribute is set by Fabric CA on issued certificates.
const EnrollmentIDAttribute = "hf.EnrollmentID"

// ClientIdentity adapts the transaction submitter's certificate to
// identity.Provider. The caller id is the enrollment id when the
// certificate carries one, else the certificate's unique id.
type ClientIdentity struct {
	cid cid.ClientIdentity
}

var _ identity.Provider = (*ClientIdentity)(nil)

// NewClientIdentity wraps a client identity.
func NewClientIdentity(id cid.ClientIdentity) *ClientIdentity {
	return &ClientIdentity{cid: id}
}

// CallerID implements identity.Provider.
func (c *ClientIdentity) CallerID() (string, error) {
	enrollment, found, err := c.cid.GetAttributeValue(EnrollmentIDAttribute)
	if err != nil {
		return "", err
	}
	if found && enrollment != "" {
		return enrollment, nil
	}
	return c.cid.GetID()
}

// CallerAttribute implements identity.Provider.
func (c *ClientIdentity) CallerAttribute(name string) (string, bool, error) {
	return c.cid.GetAttributeValue(name)
}
