package transform

// icrsToGalactic is the Hipparcos rotation matrix A_G' taking ICRS Cartesian
// vectors to Galactic Cartesian (x toward the Galactic centre, y toward
// l = 90 deg, z toward the north Galactic pole).
var icrsToGalactic = [3][3]float64{
	{-0.0548755604162154, -0.8734370902348850, -0.4838350155487132},
	{+0.4941094278755837, -0.4448296299600112, +0.7469822444972189},
	{-0.8676661490190047, -0.1980763734312015, +0.4559837761750669},
}

// ICRSToGalactic rotates an ICRS vector into the Galactic frame.
func ICRSToGalactic(v Vec3) Vec3 {
	m := icrsToGalactic
	return Vec3{
		X: m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		Y: m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		Z: m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}
}

// GalacticToICRS applies the transpose (inverse) rotation.
func GalacticToICRS(v Vec3) Vec3 {
	m := icrsToGalactic
	return Vec3{
		X: m[0][0]*v.X + m[1][0]*v.Y + m[2][0]*v.Z,
		Y: m[0][1]*v.X + m[1][1]*v.Y + m[2][1]*v.Z,
		Z: m[0][2]*v.X + m[1][2]*v.Y + m[2][2]*v.Z,
	}
}
