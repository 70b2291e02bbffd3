package services

import (
	"encoding/json"
	"net/http"
)

type Bank struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

var nigerianBanks = []Bank{
	{Code: "044", Name: "Access Bank"},
	{Code: "023", Name: "Citibank"},
	{Code: "050", Name: "Ecobank"},
	{Code: "070", Name: "Fidelity Bank"},
	{Code: "011", Name: "First Bank of Nigeria"},
	{Code: "214", Name: "First City Monument Bank"},
	{Code: "058", Name: "Guaranty Trust Bank"},
	{Code: "301", Name: "Jaiz Bank"},
	{Code: "082", Name: "Keystone Bank"},
	{Code: "076", Name: "Polaris Bank"},
	{Code: "101", Name: "Providus Bank"},
	{Code: "221", Name: "Stanbic IBTC Bank"},
	{Code: "068", Name: "Standard Chartered"},
	{Code: "232", Name: "Sterling Bank"},
	{Code: "032", Name: "Union Bank"},
	{Code: "033", Name: "United Bank for Africa"},
	{Code: "215", Name: "Unity Bank"},
	{Code: "035", Name: "Wema Bank"},
	{Code: "057", Name: "Zenith Bank"},
	{Code: "50211", Name: "Kuda Bank"},
	{Code: "100002", Name: "Paga"},
	{Code: "110005", Name: "OPay"},
	{Code: "090405", Name: "Moniepoint"},
}

type BankService struct{}

func NewBankService() *BankService {
	return &BankService{}
}

// ListBanks returns the supported destination banks
// @Summary List banks
// @Description Get the directory of banks reachable for external transfers
// @Tags banks
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{banks=[]Bank}
// @Router /banks [get]
func (s *BankService) ListBanks(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"banks": nigerianBanks})
}

// LookupBank resolves a clearing code to a bank name.
func (s *BankService) LookupBank(code string) (Bank, bool) {
	for _, b := range nigerianBanks {
		if b.Code == code {
			return b, true
		}
	}
	return Bank{}, false
}
