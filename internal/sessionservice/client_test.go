package sessionservice

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	path string
	resp []byte
	err  error
}

func (f *fakeCaller) Call(_ context.Context, path string, _ []byte) ([]byte, error) {
	f.path = path
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func TestRequestGrant(t *testing.T) {
	resp := GrantResponse{AuthorizationGrant: []byte("grant"), ServerIdentityToken: []byte("ident")}
	data, err := json.Marshal(resp)
	require.NoError(t, err)

	caller := &fakeCaller{resp: data}
	client := NewClient(caller)

	got, err := client.RequestGrant(context.Background(), GrantRequest{PlayerID: uuid.New(), Username: "Steve"})
	require.NoError(t, err)
	require.Equal(t, "/grants", caller.path)
	require.Equal(t, resp.AuthorizationGrant, got.AuthorizationGrant)
}

func TestExchangeGrantPropagatesTransportError(t *testing.T) {
	caller := &fakeCaller{err: errors.New("boom")}
	client := NewClient(caller)

	_, err := client.ExchangeGrant(context.Background(), ExchangeRequest{PlayerID: uuid.New()})
	require.Error(t, err)
}
