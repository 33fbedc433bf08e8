package issuetest

import (
	"time"

	"github.com/hmu/medventory/inventory"
)

// Demo fixture ids.
const (
	Morphine     inventory.MaterialID = 1
	Fentanyl     inventory.MaterialID = 2
	ColdMedicine inventory.MaterialID = 3

	LotM001 inventory.LotID = 10
	LotM002 inventory.LotID = 11
	LotF123 inventory.LotID = 20

	RequestControlled inventory.RequestID = 101
	RequestCommon     inventory.RequestID = 102
)

// DemoRequests returns the two approved demo requests.
func DemoRequests(now time.Time) []inventory.WithdrawalRequest {
	return []inventory.WithdrawalRequest{
		{
			ID:             RequestControlled,
			RequesterName:  "Nguyễn Văn A",
			DepartmentID:   1,
			DepartmentName: "Khoa Dược",
			RequestedAt:    now.Add(-24 * time.Hour),
			Status:         inventory.RequestApproved,
			Lines: []inventory.RequestLine{
				{MaterialID: Morphine, MaterialName: "Morphine 10mg", UnitName: "Ống", Category: "A", QtyRequested: inventory.QtyFromInt(50)},
				{MaterialID: Fentanyl, MaterialName: "Fentanyl 0.1mg", UnitName: "Ống", Category: "A", QtyRequested: inventory.QtyFromInt(20)},
			},
		},
		{
			ID:             RequestCommon,
			RequesterName:  "Trần Thị B",
			DepartmentID:   2,
			DepartmentName: "Khoa Hồi Sức",
			RequestedAt:    now,
			Status:         inventory.RequestApproved,
			Lines: []inventory.RequestLine{
				{MaterialID: ColdMedicine, MaterialName: "Thuốc Cảm Cúm (Không đặc biệt)", UnitName: "Viên", Category: inventory.DefaultCategory, QtyRequested: inventory.QtyFromInt(100)},
			},
		},
	}
}

// DemoStocks returns stock for the three demo materials.
func DemoStocks() []inventory.StockInfo {
	return []inventory.StockInfo{
		{
			MaterialID: Morphine,
			Total:      inventory.QtyFromInt(100),
			Lots: []inventory.LotStock{
				{ID: LotM001, LotNumber: "M001", Available: inventory.QtyFromInt(30), ExpiresOn: inventory.NewDate(2026, time.October, 1), Manufacturer: "VN Pharma", Country: "Việt Nam"},
				{ID: LotM002, LotNumber: "M002", Available: inventory.QtyFromInt(70), ExpiresOn: inventory.NewDate(2027, time.May, 1), Manufacturer: "VN Pharma", Country: "Việt Nam"},
			},
			Manufacturer: "Global Drug Co.",
			Country:      "Mỹ",
		},
		{
			MaterialID: Fentanyl,
			Total:      inventory.QtyFromInt(15),
			Lots: []inventory.LotStock{
				{ID: LotF123, LotNumber: "F123", Available: inventory.QtyFromInt(15), ExpiresOn: inventory.NewDate(2025, time.December, 31), Manufacturer: "EuroPharm", Country: "Pháp"},
			},
			Manufacturer: "EuroPharm",
			Country:      "Pháp",
		},
		{
			MaterialID: ColdMedicine,
			Total:      inventory.QtyFromInt(500),
		},
	}
}

// Demo returns a Memory loaded with the demo requests and stock.
func Demo() *Memory {
	m := NewMemory()
	for _, r := range DemoRequests(time.Now()) {
		m.AddRequest(r)
	}
	for _, s := range DemoStocks() {
		m.SetStock(s)
	}
	return m
}
