package types

// MachineDefinition is the static configuration of one machine: its device
// tables, aliases and mechs. Platform files use the same shape and are
// merged underneath the machine by the catalog.
type MachineDefinition struct {
	Machine  MachineInfo        `json:"machine" yaml:"machine"`
	Roms     []RomInfo          `json:"roms,omitempty" yaml:"roms,omitempty"`
	Switches []SwitchDefinition `json:"switches,omitempty" yaml:"switches,omitempty"`
	Coils    []CoilDefinition   `json:"coils,omitempty" yaml:"coils,omitempty"`
	Lamps    []LampDefinition   `json:"lamps,omitempty" yaml:"lamps,omitempty"`
	Aliases  []Alias            `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	Mechs    []MechDefinition   `json:"mechs,omitempty" yaml:"mechs,omitempty"`
}

type MachineInfo struct {
	ID           string `json:"id" yaml:"id"`
	Name         string `json:"name,omitempty" yaml:"name,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty" yaml:"manufacturer,omitempty"`
	Year         int    `json:"year,omitempty" yaml:"year,omitempty"`
	IpdbID       int    `json:"ipdb_id,omitempty" yaml:"ipdb_id,omitempty"`
	Platform     string `json:"platform,omitempty" yaml:"platform,omitempty"`
}

type RomInfo struct {
	ID          string `json:"id" yaml:"id"`
	Version     string `json:"version,omitempty" yaml:"version,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// MechDefinition is the declarative mech form found in machine files.
// Enum fields hold the names accepted by mech.ParseConfig.
type MechDefinition struct {
	Name         string           `json:"name" yaml:"name"`
	Drive        string           `json:"drive,omitempty" yaml:"drive,omitempty"`
	Repeat       string           `json:"repeat,omitempty" yaml:"repeat,omitempty"`
	Linear       *bool            `json:"linear,omitempty" yaml:"linear,omitempty"`
	Fast         bool             `json:"fast,omitempty" yaml:"fast,omitempty"`
	ByLength     bool             `json:"by_length,omitempty" yaml:"by_length,omitempty"`
	Solenoid1    DeviceID         `json:"solenoid1" yaml:"solenoid1"`
	Solenoid2    DeviceID         `json:"solenoid2,omitempty" yaml:"solenoid2,omitempty"`
	Length       int              `json:"length" yaml:"length"`
	Steps        int              `json:"steps" yaml:"steps"`
	Acceleration float64          `json:"acceleration,omitempty" yaml:"acceleration,omitempty"`
	Retardation  float64          `json:"retardation,omitempty" yaml:"retardation,omitempty"`
	Marks        []MarkDefinition `json:"marks,omitempty" yaml:"marks,omitempty"`
}

type MarkDefinition struct {
	Description   string   `json:"description,omitempty" yaml:"description,omitempty"`
	Switch        DeviceID `json:"switch" yaml:"switch"`
	Type          string   `json:"type" yaml:"type"`
	Begin         int      `json:"begin" yaml:"begin"`
	End           int      `json:"end,omitempty" yaml:"end,omitempty"`
	PulseDuration int      `json:"pulse_duration,omitempty" yaml:"pulse_duration,omitempty"`
}

// RomIDs returns the rom ids of the machine, falling back to the machine id.
func (m *MachineDefinition) RomIDs() []string {
	if len(m.Roms) == 0 {
		return []string{m.Machine.ID}
	}
	ids := make([]string, 0, len(m.Roms))
	for _, r := range m.Roms {
		ids = append(ids, r.ID)
	}
	return ids
}
