package model

// Status is the coordinator snapshot returned by status_sistema and the HTTP API.
type Status struct {
	Free           map[string]Slots `json:"vagas_livres"`
	Totals         map[string]Slots `json:"vagas_totais"`
	Cars           map[string]int   `json:"num_carros"`
	ActiveVehicles int              `json:"veiculos_ativos"`
	Closed         bool             `json:"estacionamento_fechado"`
	Floor1Blocked  bool             `json:"andar1_bloqueado"`
	Floor2Blocked  bool             `json:"andar2_bloqueado"`
	Full           bool             `json:"lotado"`
}
