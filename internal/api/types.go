package api

// publicKeyResponse is the directory's public key lookup response.
type publicKeyResponse struct {
	PublicKey string `json:"publicKey"`
}

// addressResponse is the directory's address lookup response. Older
// deployments answer with ethAddress.
type addressResponse struct {
	Address    string `json:"address"`
	EthAddress string `json:"ethAddress"`
}

func (r *addressResponse) value() string {
	if r.Address != "" {
		return r.Address
	}
	return r.EthAddress
}
