package evm

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// lendingABI is the subset of the LendingPlatform contract the client uses.
const lendingABI = `[
  {"type":"function","name":"requestLoan","stateMutability":"nonpayable",
   "inputs":[{"name":"amount","type":"uint256"},{"name":"interest","type":"uint256"},{"name":"duration","type":"uint256"}],
   "outputs":[]},
  {"type":"function","name":"fundLoan","stateMutability":"payable",
   "inputs":[{"name":"loanId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"repayLoan","stateMutability":"payable",
   "inputs":[{"name":"loanId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"loans","stateMutability":"view",
   "inputs":[{"name":"","type":"uint256"}],
   "outputs":[
     {"name":"borrower","type":"address"},{"name":"lender","type":"address"},
     {"name":"amount","type":"uint256"},{"name":"interest","type":"uint256"},
     {"name":"duration","type":"uint256"},{"name":"funded","type":"bool"},
     {"name":"repaid","type":"bool"}]},
  {"type":"function","name":"getAllLoanIds","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint256[]"}]},
  {"type":"function","name":"getReputation","stateMutability":"view",
   "inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"event","name":"LoanRequested","anonymous":false,
   "inputs":[
     {"name":"loanId","type":"uint256","indexed":true},{"name":"borrower","type":"address","indexed":true},
     {"name":"amount","type":"uint256","indexed":false},{"name":"interest","type":"uint256","indexed":false},
     {"name":"duration","type":"uint256","indexed":false}]},
  {"type":"event","name":"LoanFunded","anonymous":false,
   "inputs":[
     {"name":"loanId","type":"uint256","indexed":true},{"name":"lender","type":"address","indexed":true},
     {"name":"amount","type":"uint256","indexed":false}]},
  {"type":"event","name":"LoanRepaid","anonymous":false,
   "inputs":[
     {"name":"loanId","type":"uint256","indexed":true},{"name":"borrower","type":"address","indexed":true},
     {"name":"amount","type":"uint256","indexed":false}]}
]`

const (
	eventRequested = "LoanRequested"
	eventFunded    = "LoanFunded"
	eventRepaid    = "LoanRepaid"
)

func parseABI() (abi.ABI, error) { return abi.JSON(strings.NewReader(lendingABI)) }
