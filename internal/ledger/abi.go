package ledger

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Method and event names of the EmailStorage contract.
const (
	methodSendEmail    = "sendEmail"
	methodSaveDraft    = "saveDraft"
	methodUpdateDraft  = "updateDraft"
	methodUpdateStatus = "updateEmailStatus"
	methodGetEmail     = "getEmail"
	methodUserEmails   = "getUserEmails"

	eventEmailSent  = "EmailSent"
	eventDraftSaved = "DraftSaved"
)

// EmailStorageABI is the subset of the EmailStorage contract ABI the client uses.
const EmailStorageABI = `[
  {"type":"function","name":"sendEmail","stateMutability":"nonpayable",
   "inputs":[{"name":"recipient","type":"address"},{"name":"ipfsHash","type":"string"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"saveDraft","stateMutability":"nonpayable",
   "inputs":[{"name":"recipient","type":"address"},{"name":"ipfsHash","type":"string"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"updateDraft","stateMutability":"nonpayable",
   "inputs":[{"name":"emailId","type":"uint256"},{"name":"ipfsHash","type":"string"}],
   "outputs":[]},
  {"type":"function","name":"updateEmailStatus","stateMutability":"nonpayable",
   "inputs":[{"name":"emailId","type":"uint256"},{"name":"isRead","type":"bool"},
             {"name":"isStarred","type":"bool"},{"name":"isDraft","type":"bool"}],
   "outputs":[]},
  {"type":"function","name":"getEmail","stateMutability":"view",
   "inputs":[{"name":"emailId","type":"uint256"}],
   "outputs":[{"name":"sender","type":"address"},{"name":"recipient","type":"address"},
              {"name":"ipfsHash","type":"string"},{"name":"timestamp","type":"uint256"},
              {"name":"isRead","type":"bool"},{"name":"isStarred","type":"bool"},
              {"name":"isDraft","type":"bool"}]},
  {"type":"function","name":"getUserEmails","stateMutability":"view",
   "inputs":[{"name":"user","type":"address"}],
   "outputs":[{"name":"","type":"uint256[]"}]},
  {"type":"event","name":"EmailSent","anonymous":false,
   "inputs":[{"name":"emailId","type":"uint256","indexed":true},
             {"name":"sender","type":"address","indexed":true},
             {"name":"recipient","type":"address","indexed":true},
             {"name":"ipfsHash","type":"string","indexed":false},
             {"name":"timestamp","type":"uint256","indexed":false}]},
  {"type":"event","name":"DraftSaved","anonymous":false,
   "inputs":[{"name":"emailId","type":"uint256","indexed":true},
             {"name":"sender","type":"address","indexed":true},
             {"name":"recipient","type":"address","indexed":true},
             {"name":"ipfsHash","type":"string","indexed":false},
             {"name":"timestamp","type":"uint256","indexed":false}]}
]`

var parsedABI = mustParseABI(EmailStorageABI)

func mustParseABI(s string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic("ledger: invalid contract ABI: " + err.Error())
	}
	return a
}
