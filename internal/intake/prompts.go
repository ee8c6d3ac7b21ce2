package intake

const lenientPrompt = `You are reading the packaging of a medicine from a photo.
Extract the following fields and reply with a single JSON object containing exactly these keys:
  "name": the medicine or active ingredient name,
  "strength": the dosage strength including its unit (for example "500 mg"),
  "expiry": the expiry date as YYYY-MM-DD (use the last day of the month if only month and year are printed),
  "brand": the brand or manufacturer name.
Use null for any field you cannot read. Do not include any text outside the JSON object.`

const strictPrompt = `Read the medicine packaging in the image.
Respond with ONLY a JSON object. No markdown, no code fences, no explanation, no text before or after it.
The object must have exactly the keys "name", "strength", "expiry" and "brand".
Each value is a string or null. "expiry" must be formatted YYYY-MM-DD.
Example of a valid response:
{"name":"Paracetamol","strength":"500 mg","expiry":"2024-07-31","brand":"PARACIP-500"}`

func promptFor(s Stage) string {
	if s == StageStrict {
		return strictPrompt
	}
	return lenientPrompt
}
