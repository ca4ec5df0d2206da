package importer

import (
	"fmt"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/pavelanni/examgrader/internal/model"
)

const exportSheet = "Questions"

func exportValue(q model.Question, f field) any {
	switch f {
	case fieldStem:
		return q.Content
	case fieldOptionA:
		return q.OptionA
	case fieldOptionB:
		return q.OptionB
	case fieldOptionC:
		return q.OptionC
	case fieldOptionD:
		return q.OptionD
	case fieldOptionE:
		return q.OptionE
	case fieldAnswer:
		return q.CorrectAnswer
	case fieldPoints:
		return q.Points
	case fieldExplanation:
		return q.Explanation
	case fieldUnordered:
		return strconv.FormatBool(q.UnorderedBlanks)
	}
	return ""
}

// ExportBank writes a bank as an XLSX workbook that Import reads back.
// It returns the file contents and a suggested file name.
func (im *Importer) ExportBank(bankID int64) ([]byte, string, error) {
	bank, err := im.store.GetBank(bankID)
	if err != nil {
		return nil, "", fmt.Errorf("get bank: %w", err)
	}
	if bank == nil {
		return nil, "", fmt.Errorf("bank %d not found", bankID)
	}
	questions, err := im.store.ListQuestions(bankID)
	if err != nil {
		return nil, "", fmt.Errorf("list questions: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName(f.GetSheetName(0), exportSheet); err != nil {
		return nil, "", err
	}

	cols := layout(bank.Type)
	for i, c := range cols {
		name, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, "", err
		}
		if err := f.SetCellValue(exportSheet, name, string(c)); err != nil {
			return nil, "", err
		}
	}
	for r, q := range questions {
		for i, c := range cols {
			name, err := excelize.CoordinatesToCellName(i+1, r+2)
			if err != nil {
				return nil, "", err
			}
			if err := f.SetCellValue(exportSheet, name, exportValue(q, c)); err != nil {
				return nil, "", err
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, "", fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), bank.Name + ".xlsx", nil
}
