package devbackend

type Mode struct {
	Name  string
	Size  int
	Units []int // unit sizes to place, largest first
}

var Modes = map[string]Mode{
	"classic": {Name: "classic", Size: 8, Units: []int{3, 3, 2, 2, 1, 1, 1, 1}},
	"fast":    {Name: "fast", Size: 6, Units: []int{3, 2, 1, 1}},
	"full":    {Name: "full", Size: 10, Units: []int{4, 3, 3, 2, 2, 2, 1, 1, 1, 1}},
}

func LookupMode(name string) (Mode, bool) {
	if name == "" {
		name = "classic"
	}
	m, ok := Modes[name]
	return m, ok
}
