package voice

func vctk(code, gender string, age int, accent, region string, tags ...string) Entry {
	return Entry{
		Code:    code,
		Model:   VCTKModel,
		Speaker: code,
		Gender:  gender,
		Age:     age,
		Accent:  accent,
		Region:  region,
		Tags:    tags,
	}
}

// builtinEntries is ordered: American VCTK speakers first, then the British
// and Scottish VCTK speakers, then the single-speaker models.
var builtinEntries = []Entry{
	vctk("p297", GenderFemale, 27, AccentAmerican, "New Jersey", TagWarm),
	vctk("p336", GenderMale, 19, AccentAmerican, "New Jersey"),
	vctk("p323", GenderFemale, 19, AccentAmerican, "New Jersey"),

	vctk("p225", GenderFemale, 23, AccentBritish, "Southern England"),
	vctk("p226", GenderMale, 22, AccentBritish, "Surrey", TagAssertive),
	vctk("p227", GenderMale, 38, AccentBritish, "Cumbria"),
	vctk("p228", GenderFemale, 22, AccentBritish, "Southern England"),
	vctk("p229", GenderFemale, 23, AccentBritish, "Southern England"),
	vctk("p230", GenderFemale, 22, AccentBritish, "Stockton-on-tees"),
	vctk("p232", GenderMale, 23, AccentBritish, "Southern England"),
	vctk("p233", GenderFemale, 23, AccentBritish, "Staffordshire"),
	vctk("p234", GenderFemale, 22, AccentScottish, "West Dumfries"),
	vctk("p236", GenderFemale, 23, AccentBritish, "Manchester"),
	vctk("p237", GenderMale, 22, AccentScottish, "Fife", TagAssertive),
	vctk("p238", GenderFemale, 22, AccentBritish, "Potters Bar"),
	vctk("p239", GenderFemale, 22, AccentBritish, "Essex"),
	vctk("p240", GenderFemale, 21, AccentBritish, "Nottingham"),
	vctk("p241", GenderMale, 21, AccentScottish, "Inverness"),
	vctk("p243", GenderMale, 22, AccentBritish, "London", TagAssertive),
	vctk("p244", GenderMale, 22, AccentBritish, "Manchester"),

	{
		Code:        "ljspeech",
		Model:       "tts_models/en/ljspeech/vits",
		Gender:      GenderFemale,
		Age:         30,
		Accent:      AccentAmerican,
		Description: "Clear, professional female American voice",
		Tags:        []string{TagAssertive},
	},
	{
		Code:        "jenny",
		Model:       "tts_models/en/jenny/jenny",
		Gender:      GenderFemale,
		Age:         28,
		Accent:      AccentAmerican,
		Description: "Warm, friendly female American voice",
		Tags:        []string{TagWarm},
	},
}

// Builtin returns the default catalog. The first entry (p297) is the
// fallback voice for personalities that could not be matched.
func Builtin() *Catalog {
	c, err := New(builtinEntries)
	if err != nil {
		panic("voice: builtin catalog invalid: " + err.Error())
	}
	return c
}
