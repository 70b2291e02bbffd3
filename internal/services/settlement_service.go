package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"
	"github.com/spf13/viper"
	"github.com/wavebank/backend/internal/audit"
	"github.com/wavebank/backend/internal/models"
)

const institutionBIC = "WAVEBANK"

// SettlementService handles transfers to accounts at other banks. The wallet
// debit and the ledger entry commit only after the payment processor accepts
// the pacs.008 message.
type SettlementService struct {
	db        *sql.DB
	banks     *BankService
	audit     *audit.Logger
	validator *ValidationHelper
	client    *http.Client
}

func NewSettlementService(db *sql.DB, banks *BankService) *SettlementService {
	return &SettlementService{
		db:        db,
		banks:     banks,
		audit:     audit.NewLogger(),
		validator: NewValidationHelper(),
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

// ExternalTransfer sends money to an account at another bank
// @Summary External bank transfer
// @Description Debit the wallet and settle to another bank through the payment processor
// @Tags transfers
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.ExternalTransferRequest true "Transfer details"
// @Success 201 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /transfers/external [post]
func (s *SettlementService) ExternalTransfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req models.ExternalTransferRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	// Sender is always the authenticated user's account
	var senderNo, senderName string
	err := s.db.QueryRow("SELECT account_no, display_name FROM accounts WHERE user_id = $1::integer", userID).Scan(&senderNo, &senderName)
	if err != nil {
		SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		return
	}
	req.FromAccountNo = senderNo

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	bank, found := s.banks.LookupBank(req.ToBankCode)
	if !found {
		SendErrorResponse(w, "Unknown destination bank", http.StatusBadRequest, nil)
		return
	}

	reference := uuid.New().String()

	tx, err := s.db.BeginTx(r.Context(), nil)
	if err != nil {
		log.Printf("[SETTLEMENT] Failed to begin transaction: %v", err)
		SendErrorResponse(w, "Failed to process transfer", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(r.Context(), `
		UPDATE accounts
		SET balance = balance - $1, version = version + 1, updated_at = NOW()
		WHERE account_no = $2 AND balance >= $1`, req.Amount, senderNo)
	if err != nil {
		log.Printf("[SETTLEMENT] Failed to debit %s: %v", senderNo, err)
		SendErrorResponse(w, "Failed to process transfer", http.StatusInternalServerError, nil)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		SendErrorResponse(w, "Insufficient funds", http.StatusBadRequest, nil)
		return
	}

	_, err = tx.ExecContext(r.Context(), `
		INSERT INTO transactions
		(reference, account_no, counterparty_no, counterparty_name, amount, type, status, narration, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())`,
		reference, senderNo, req.ToAccountNo, bank.Name, req.Amount, models.EntryTransferOut, models.EntryStatusCompleted, req.Narration)
	if err != nil {
		log.Printf("[SETTLEMENT] Failed to record ledger entry: %v", err)
		SendErrorResponse(w, "Failed to process transfer", http.StatusInternalServerError, nil)
		return
	}

	pacs008 := s.CreatePacs008(&req, reference, senderName)
	if err := s.SendToProcessor(r.Context(), pacs008); err != nil {
		// Rolling back releases the debit; no money has moved
		log.Printf("[SETTLEMENT] Processor rejected transfer %s: %v", reference, err)
		s.audit.LogError(reference, senderNo, err)
		SendErrorResponse(w, "Settlement processor unavailable", http.StatusBadGateway, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[SETTLEMENT] Failed to commit transfer %s: %v", reference, err)
		SendErrorResponse(w, "Failed to process transfer", http.StatusInternalServerError, nil)
		return
	}

	s.audit.LogTransfer(reference, senderNo, req.ToAccountNo, req.Amount, "SETTLED")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"success":     true,
		"reference":   reference,
		"bank":        bank.Name,
		"messageType": "pacs.008.001.08",
	})
}

// CreatePacs008 builds the FIToFICustomerCreditTransfer message for an
// outbound transfer. Amounts go on the wire in major units.
func (s *SettlementService) CreatePacs008(req *models.ExternalTransferRequest, reference, senderName string) *pacs_v08.FIToFICustomerCreditTransferV08 {
	msgId := uuid.New().String()
	now := time.Now()
	majorAmount := float64(req.Amount) / 100

	return &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(now),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(req.Currency),
				Value: majorAmount,
			},
			IntrBkSttlmDt: (*common.ISODate)(&now),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG", // Clearing
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &[]common.Max35Text{common.Max35Text(reference)}[0],
					EndToEndId: common.Max35Text(reference),
					TxId:       &[]common.Max35Text{common.Max35Text(reference)}[0],
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   common.ActiveCurrencyCode(req.Currency),
					Value: majorAmount,
				},
				IntrBkSttlmDt: (*common.ISODate)(&now),
				ChrgBr:        "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(institutionBIC)}[0],
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(senderName)}[0],
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						ClrSysMmbId: &pacs_v08.ClearingSystemMemberIdentification2{
							MmbId: common.Max35Text(req.ToBankCode),
						},
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(req.ToAccountNo)}[0],
				},
			},
		},
	}
}

// CreatePacs002 builds a payment status report for a processed transfer.
func (s *SettlementService) CreatePacs002(reference, status string) *pacs_v08.FIToFIPaymentStatusReportV08 {
	msgId := uuid.New().String()

	return &pacs_v08.FIToFIPaymentStatusReportV08{
		GrpHdr: pacs_v08.GroupHeader53{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(time.Now()),
		},
		TxInfAndSts: []pacs_v08.PaymentTransaction80{
			{
				OrgnlInstrId:    &[]common.Max35Text{common.Max35Text(reference)}[0],
				OrgnlEndToEndId: &[]common.Max35Text{common.Max35Text(reference)}[0],
				OrgnlTxId:       &[]common.Max35Text{common.Max35Text(reference)}[0],
				TxSts:           &[]pacs_v08.ExternalPaymentTransactionStatus1Code{pacs_v08.ExternalPaymentTransactionStatus1Code(status)}[0], // ACCP, RJCT, ACSC
			},
		},
	}
}

// SendToProcessor posts the message XML to the payment processor. With no
// processor configured the message is logged and accepted, which keeps dev
// environments working without clearing access.
func (s *SettlementService) SendToProcessor(ctx context.Context, doc any) error {
	xmlData, err := s.ConvertToXML(doc)
	if err != nil {
		return err
	}

	processorURL := viper.GetString("processor.url")
	if processorURL == "" {
		log.Printf("[SETTLEMENT] No processor configured, accepting message locally")
		return nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, processorURL, bytes.NewReader([]byte(xmlData)))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/xml")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("processor returned status %d", resp.StatusCode)
	}
	return nil
}

// ConvertToXML serializes an ISO 20022 document.
func (s *SettlementService) ConvertToXML(doc any) (string, error) {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal XML: %w", err)
	}
	return xml.Header + string(xmlData), nil
}
