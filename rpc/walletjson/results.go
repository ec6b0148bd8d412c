package walletjson

// PocketResult models one entry of the listpockets response.
type PocketResult struct {
	CoinType       uint32 `json:"cointype"`
	Name           string `json:"name"`
	Symbol         string `json:"symbol"`
	Balance        int64  `json:"balance"`
	ReceiveAddress string `json:"receiveaddress"`
	Encrypted      bool   `json:"encrypted"`
}

// CreatePocketResult models the createpocket response.
type CreatePocketResult struct {
	CoinType       uint32 `json:"cointype"`
	ReceiveAddress string `json:"receiveaddress"`
}

// WalletInfoResult models the getinfo response.
type WalletInfoResult struct {
	Version     int32  `json:"version"`
	PocketCount int32  `json:"pocketcount"`
	Encrypted   bool   `json:"encrypted"`
	Backend     string `json:"backend"`
}

// GetMnemonicResult models the getmnemonic response.
type GetMnemonicResult struct {
	Mnemonic string `json:"mnemonic"`
}
