package legacyrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/pocketsuite/pocketwallet/rpc/walletjson"
	"github.com/pocketsuite/pocketwallet/wallet"
	"github.com/stretchr/testify/require"
)

var testMnemonic = strings.Split("abandon abandon abandon abandon abandon "+
	"abandon abandon abandon abandon abandon abandon about", " ")

type testRig struct {
	t      *testing.T
	url    string
	wallet *wallet.Wallet
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	w, err := wallet.NewFromMnemonic(testMnemonic, "")
	require.NoError(t, err)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	opts := &Options{Username: "user", Password: "pass"}
	server := NewServer(opts, []net.Listener{lis}, w, nil)
	t.Cleanup(server.Stop)

	return &testRig{
		t:      t,
		url:    fmt.Sprintf("http://%s/", lis.Addr()),
		wallet: w,
	}
}

// call posts a marshaled command and returns the unmarshaled response.
func (r *testRig) call(cmd interface{}) (json.RawMessage, *btcjson.RPCError) {
	r.t.Helper()

	body, err := btcjson.MarshalCmd(btcjson.RpcVersion1, 1, cmd)
	require.NoError(r.t, err)

	req, err := http.NewRequest(http.MethodPost, r.url, bytes.NewReader(body))
	require.NoError(r.t, err)
	req.SetBasicAuth("user", "pass")

	httpResp, err := http.DefaultClient.Do(req)
	require.NoError(r.t, err)
	defer httpResp.Body.Close()

	var resp btcjson.Response
	require.NoError(r.t, json.NewDecoder(httpResp.Body).Decode(&resp))

	// A JSON null result decodes into a non-nil RawMessage holding the
	// literal "null"; normalize it so callers can treat it as absent.
	result := resp.Result
	if bytes.Equal(result, []byte("null")) {
		result = nil
	}
	return result, resp.Error
}

func TestServerRejectsBadAuth(t *testing.T) {
	rig := newTestRig(t)

	body, err := btcjson.MarshalCmd(btcjson.RpcVersion1, 1,
		walletjson.NewListPocketsCmd())
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, rig.url, bytes.NewReader(body))
	require.NoError(t, err)
	req.SetBasicAuth("user", "hunter2")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServerCreateAndListPockets(t *testing.T) {
	rig := newTestRig(t)

	result, rpcErr := rig.call(walletjson.NewCreatePocketCmd("ltc"))
	require.Nil(t, rpcErr)
	var created walletjson.CreatePocketResult
	require.NoError(t, json.Unmarshal(result, &created))
	require.Equal(t, uint32(wallet.Litecoin), created.CoinType)
	require.NotEmpty(t, created.ReceiveAddress)

	result, rpcErr = rig.call(walletjson.NewListPocketsCmd())
	require.Nil(t, rpcErr)
	var pockets []walletjson.PocketResult
	require.NoError(t, json.Unmarshal(result, &pockets))
	require.Len(t, pockets, 1)
	require.Equal(t, "LTC", pockets[0].Symbol)
	require.Equal(t, created.ReceiveAddress, pockets[0].ReceiveAddress)

	result, rpcErr = rig.call(&walletjson.CreatePocketCmd{Symbol: "XYZ"})
	require.Nil(t, result)
	require.NotNil(t, rpcErr)
	require.Equal(t, ErrUnknownCurrency.Code, rpcErr.Code)
}

func TestServerGetBalance(t *testing.T) {
	rig := newTestRig(t)

	_, rpcErr := rig.call(walletjson.NewCreatePocketCmd("BTC"))
	require.Nil(t, rpcErr)

	result, rpcErr := rig.call(btcjson.NewGetBalanceCmd(nil, nil))
	require.Nil(t, rpcErr)
	var balance int64
	require.NoError(t, json.Unmarshal(result, &balance))
	require.Equal(t, int64(0), balance)
}

func TestServerEncryptDecryptWallet(t *testing.T) {
	rig := newTestRig(t)

	result, rpcErr := rig.call(btcjson.NewEncryptWalletCmd("secret"))
	require.Nil(t, rpcErr)
	require.Equal(t, json.RawMessage(`"wallet encrypted"`), result)
	require.True(t, rig.wallet.IsEncrypted())

	result, rpcErr = rig.call(walletjson.NewGetMnemonicCmd())
	require.Nil(t, result)
	require.NotNil(t, rpcErr)
	require.Equal(t, ErrWalletEncrypted.Code, rpcErr.Code)

	_, rpcErr = rig.call(walletjson.NewDecryptWalletCmd("wrong"))
	require.NotNil(t, rpcErr)
	require.Equal(t, btcjson.ErrRPCWalletPassphraseIncorrect, rpcErr.Code)
	require.True(t, rig.wallet.IsEncrypted())

	_, rpcErr = rig.call(walletjson.NewDecryptWalletCmd("secret"))
	require.Nil(t, rpcErr)
	require.False(t, rig.wallet.IsEncrypted())

	result, rpcErr = rig.call(walletjson.NewGetMnemonicCmd())
	require.Nil(t, rpcErr)
	var mresult walletjson.GetMnemonicResult
	require.NoError(t, json.Unmarshal(result, &mresult))
	require.Equal(t, strings.Join(testMnemonic, " "), mresult.Mnemonic)
}

func TestServerWalletIsLocked(t *testing.T) {
	rig := newTestRig(t)

	result, rpcErr := rig.call(btcjson.NewWalletIsLockedCmd())
	require.Nil(t, rpcErr)
	require.Equal(t, json.RawMessage(`false`), result)
}

func TestServerUnknownMethod(t *testing.T) {
	rig := newTestRig(t)

	body := []byte(`{"jsonrpc":"1.0","id":1,"method":"bogusmethod","params":[]}`)
	req, err := http.NewRequest(http.MethodPost, rig.url, bytes.NewReader(body))
	require.NoError(t, err)
	req.SetBasicAuth("user", "pass")

	httpResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer httpResp.Body.Close()

	var resp btcjson.Response
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	require.Equal(t, btcjson.ErrRPCMethodNotFound.Code, resp.Error.Code)
}
