// Command approvals-chaincode runs the approval engine as Hyperledger
// Fabric chaincode.
package main

import (
	"fmt"
	"os"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"

	"github.com/civicledger/approvald/internal/fabric"
	"github.com/civicledger/approvald/internal/logging"
)

func main() {
	logging.Init(logging.DefaultConfig())
	logger := logging.Component("chaincode")

	cc, err := contractapi.NewChaincode(fabric.NewApprovalContract())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating chaincode: %v\n", err)
		os.Exit(1)
	}
	cc.Info.Title = "approvals"
	cc.Info.Version = "1.0.0"

	logger.Info().Str("contract", fabric.ContractName).Msg("starting chaincode")
	if err := cc.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting chaincode: %v\n", err)
		os.Exit(1)
	}
}
