package dydx

import (
	"context"
	"strconv"

	"github.com/yanun0323/errors"

	"venuelink/pkg/exception"
	"venuelink/pkg/rest"
	"venuelink/pkg/wallet"
)

type accountResponse struct {
	Account struct {
		Address       string `json:"address"`
		AccountNumber string `json:"account_number"`
		Sequence      string `json:"sequence"`
	} `json:"account"`
}

// NodeAccounts fetches account numbers and sequences from the node.
type NodeAccounts struct {
	Node *rest.Client
}

func (n NodeAccounts) FetchAccount(ctx context.Context, address string) (wallet.Account, error) {
	var resp accountResponse
	if _, err := n.Node.Do(ctx, rest.Request{
		Path: "/cosmos/auth/v1beta1/accounts/" + address,
		Keys: []string{RateClassNode},
	}, &resp); err != nil {
		return wallet.Account{}, errors.Wrap(err, "fetch account").With("address", address)
	}

	number, err := strconv.ParseUint(resp.Account.AccountNumber, 10, 64)
	if err != nil {
		return wallet.Account{}, errors.Wrap(exception.ErrProtocol, "account number").With("value", resp.Account.AccountNumber)
	}
	sequence, err := strconv.ParseUint(resp.Account.Sequence, 10, 64)
	if err != nil {
		return wallet.Account{}, errors.Wrap(exception.ErrProtocol, "account sequence").With("value", resp.Account.Sequence)
	}
	return wallet.Account{Number: number, Sequence: sequence}, nil
}
